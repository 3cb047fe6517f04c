package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/anupcshan/romcheck/diag"
	"github.com/anupcshan/romcheck/profile"
	"github.com/anupcshan/romcheck/session"
)

func main() {
	in := flag.String("in", "", "Input hex or bin file")
	out := flag.String("out", "", "Output hex file")
	profilePath := flag.String("profile", "", "Product profile JSON file (default: built-in p21odp)")
	replaceCfg := flag.String("replace-cfg", "", "File containing replacement config")
	regions := flag.String("regions", "", "Comma separated regions to re-checksum (default: all)")

	flag.Parse()

	log.SetFlags(log.Lmicroseconds | log.Lshortfile)

	replaceF, err := os.Open(*replaceCfg)
	if err != nil {
		log.Fatal(err)
	}
	patches, err := session.DecodePatches(replaceF)
	if err != nil {
		log.Fatal(err)
	}
	_ = replaceF.Close()

	p, err := profile.Load(*profilePath)
	if err != nil {
		log.Fatal(err)
	}

	s, err := session.New(p, session.WithSink(diag.SinkFunc(func(message string, _ bool, _ bool) {
		log.Print(message)
	})))
	if err != nil {
		log.Fatal(err)
	}

	if _, err := s.Load(context.Background(), *in); err != nil {
		log.Fatal(err)
	}
	if err := s.ApplyPatches(patches); err != nil {
		log.Fatal(err)
	}

	var names []string
	if *regions != "" {
		names = strings.Split(*regions, ",")
	}
	if _, err := s.Fix(names...); err != nil {
		log.Fatal(err)
	}

	first, last, ok := s.ModifiedRange()
	if !ok {
		log.Fatal("No data to write")
	}
	if err := s.Save(*out, first, last); err != nil {
		log.Fatal(err)
	}
}
