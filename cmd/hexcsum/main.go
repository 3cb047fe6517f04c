package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/anupcshan/romcheck/checksum"
	"github.com/anupcshan/romcheck/fwimage"
	"github.com/anupcshan/romcheck/profile"
)

func main() {
	profilePath := flag.String("profile", "", "Product profile JSON file (default: built-in p21odp)")
	offset := flag.Int("offset", -1, "Load address of a bin file (default: 0 for a full-ROM image such as hex2bin writes, else the profile's binary offset)")

	flag.Parse()

	log.SetFlags(log.Lmicroseconds | log.Lshortfile)

	p, err := profile.Load(*profilePath)
	if err != nil {
		log.Fatal(err)
	}
	if *offset < 0 {
		*offset = p.BinaryOffset
		if fwimage.FormatOf(flag.Arg(0)) == fwimage.FormatBinary {
			if fi, err := os.Stat(flag.Arg(0)); err == nil {
				*offset = p.BinaryOffsetFor(fi.Size())
			}
		}
	}

	mbuf, err := p.NewMemBuffer()
	if err != nil {
		log.Fatal(err)
	}

	res, err := fwimage.NewImporter(mbuf, nil).Import(context.Background(), flag.Arg(0), fwimage.WithBinaryOffset(*offset))
	if err != nil {
		log.Fatal(err)
	}
	if res.Skipped > 0 || res.ChecksumWarnings > 0 {
		log.Printf("%d lines skipped, %d line checksum failures", res.Skipped, res.ChecksumWarnings)
	}

	for _, region := range p.Regions {
		result, err := checksum.Verify(mbuf, region)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("%s", result)
	}

	for _, page := range mbuf.ModifiedPages() {
		start, end, _ := mbuf.PageBounds(page)
		log.Printf("Page %2d sum: %08x", page, checksum.SimpleSum(mbuf, start, end))
	}
}
