package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/anupcshan/romcheck/session"
)

// protoprint dumps a protobuf message, such as a romcheck report, read from
// stdin without needing its schema.
func main() {
	log.SetFlags(log.Lmicroseconds | log.Lshortfile)

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatal(err)
	}

	fields := session.ParseFields(b)
	if fields == nil {
		log.Fatal("Input is not a protobuf message")
	}
	for _, field := range fields {
		fmt.Printf("%s\n", field)
	}
}
