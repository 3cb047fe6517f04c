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

// pageInfo is written next to the output so bin2hex can restore the page
// range that held data.
type pageInfo struct {
	PageSize int   `json:"page_size"`
	Modified []int `json:"modified"`
}

func main() {
	in := flag.String("in", "", "Input hex file")
	out := flag.String("out", "", "Output bin file (default: stdout)")
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
	res, err := importer.Import(context.Background(), *in)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Read %d lines, %d bytes", res.Lines, res.BytesWritten)

	image := mbuf.ReadRange(0, mbuf.Size())
	if *out == "" {
		_, _ = os.Stdout.Write(image)
		return
	}

	if err := os.WriteFile(*out, image, 0644); err != nil {
		log.Fatal(err)
	}

	pagesF, err := os.OpenFile(*out+".pages", os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(pagesF)
	if err := enc.Encode(pageInfo{PageSize: mbuf.PageSize(), Modified: mbuf.ModifiedPages()}); err != nil {
		log.Fatal(err)
	}
	_ = pagesF.Close()
}
