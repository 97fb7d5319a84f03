// Command cqfbench builds a filter from a line-oriented input file and
// reports load, lookup, and serialization timings, the same shape of
// exercise the teacher's cmd/main.go ran against its simple quotient
// filter (compile, then lookup, then describe), adapted to the counting
// filter's Insert/Query/SyncCounters surface in place of the teacher's
// string-only compile/lookup/describe subcommands and its urfave/cli/v2
// driver; see DESIGN.md for why the CLI framework was dropped.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"time"

	"github.com/quotientlabs/cqf"
)

func main() {
	var (
		input      = flag.String("input", "", "newline-delimited keys to load (default: stdin)")
		nslots     = flag.Uint64("nslots", 1<<20, "initial slot count, must be a power of two")
		keyBits    = flag.Uint("key-bits", 32, "hash bits devoted to the key fingerprint")
		valueBits  = flag.Uint("value-bits", 0, "bits devoted to an associated value")
		out        = flag.String("out", "", "path to save the built filter to (optional)")
		autoresize = flag.Bool("autoresize", true, "double the filter automatically when full")
	)
	flag.Parse()

	f, err := cqf.New(cqf.Config{
		NSlots:     *nslots,
		KeyBits:    *keyBits,
		ValueBits:  *valueBits,
		HashMode:   cqf.HashDefault,
		AutoResize: *autoresize,
	})
	if err != nil {
		log.Fatalf("cqf.New: %v", err)
	}

	in := os.Stdin
	if *input != "" {
		fh, err := os.Open(*input)
		if err != nil {
			log.Fatalf("open %s: %v", *input, err)
		}
		defer fh.Close()
		in = fh
	}

	start := time.Now()
	var inserted uint64
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		key := scanner.Bytes()
		if len(key) == 0 {
			continue
		}
		if _, err := f.Insert(key, 0, 1, cqf.FlagWaitForLock); err != nil {
			log.Fatalf("insert %q: %v", key, err)
		}
		inserted++
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("scan input: %v", err)
	}
	log.Printf("inserted %d keys in %s", inserted, time.Since(start))

	occupied, distinct, sum := f.SyncCounters()
	log.Printf("nslots=%d key_bits=%d value_bits=%d occupied_slots=%d distinct_pairs=%d sum_of_counts=%d",
		f.NSlots(), f.KeyBits(), f.ValueBits(), occupied, distinct, sum)

	if *input != "" {
		start = time.Now()
		fh, err := os.Open(*input)
		if err != nil {
			log.Fatalf("reopen %s: %v", *input, err)
		}
		defer fh.Close()

		var found, missed uint64
		scanner := bufio.NewScanner(fh)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		for scanner.Scan() {
			key := scanner.Bytes()
			if len(key) == 0 {
				continue
			}
			_, count, err := f.Query(key, cqf.FlagWaitForLock)
			if err != nil {
				log.Fatalf("query %q: %v", key, err)
			}
			if count > 0 {
				found++
			} else {
				missed++
			}
		}
		log.Printf("looked up %d keys (%d found, %d missed) in %s", found+missed, found, missed, time.Since(start))
	}

	if *out != "" {
		start = time.Now()
		if err := f.SaveToFile(*out); err != nil {
			log.Fatalf("save %s: %v", *out, err)
		}
		log.Printf("saved filter to %s in %s", *out, time.Since(start))
	}
}
