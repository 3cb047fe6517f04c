package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/fwimage"
	"github.com/anupcshan/romcheck/profile"
)

type pageInfo struct {
	PageSize int   `json:"page_size"`
	Modified []int `json:"modified"`
}

func main() {
	in := flag.String("in", "", "Input bin file")
	out := flag.String("out", "", "Output hex file")
	offset := flag.Int("offset", 0, "Load address of the bin file")
	profilePath := flag.String("profile", "", "Product profile JSON file (default: built-in p21odp)")

	flag.Parse()

	log.SetFlags(log.Lmicroseconds | log.Lshortfile)

	p, err := profile.Load(*profilePath)
	if err != nil {
		log.Fatal(err)
	}
	mbuf, err := p.NewMemBuffer()
	if err != nil {
		log.Fatal(err)
	}

	importer := fwimage.NewImporter(mbuf, diag.SinkFunc(func(message string, _ bool, _ bool) {
		log.Print(message)
	}))
	if _, err := importer.Import(context.Background(), *in, fwimage.WithBinaryOffset(*offset)); err != nil {
		log.Fatal(err)
	}

	pages := mbuf.ModifiedPages()

	// hex2bin leaves a list of the pages that actually held data.
	if pagesF, err := os.Open(*in + ".pages"); err == nil {
		var info pageInfo
		dec := json.NewDecoder(pagesF)
		if err := dec.Decode(&info); err != nil {
			log.Fatal(err)
		}
		_ = pagesF.Close()

		if info.PageSize != mbuf.PageSize() {
			log.Fatalf("%s.pages uses %#x byte pages, profile uses %#x", *in, info.PageSize, mbuf.PageSize())
		}
		pages = info.Modified
	}

	if len(pages) == 0 {
		log.Fatal("No data to write")
	}
	log.Printf("Writing pages %d-%d", pages[0], pages[len(pages)-1])

	if err := fwimage.WritePages(*out, mbuf, pages[0], pages[len(pages)-1], fwimage.WithEmptyRange()); err != nil {
		log.Fatal(err)
	}
}
