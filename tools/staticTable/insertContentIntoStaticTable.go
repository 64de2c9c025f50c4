package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

type entry struct {
	name  string
	value string
}

func main() {
	var path = flag.String("content", "", "The static table listing, one index;name;value per line")
	var out = flag.String("out", "", "Output file, stdout if empty")
	flag.Parse()

	if *path == "" {
		panic("The file path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	entries, err := parse(f)
	if err != nil {
		log.Fatal(err)
	}

	src, err := generate(entries)
	if err != nil {
		log.Fatal(err)
	}

	if *out == "" {
		fmt.Print(string(src))
		return
	}
	if err := os.WriteFile(*out, src, 0644); err != nil {
		log.Fatal(err)
	}
}

// parse reads "index;name;value" lines. Indices must start at 0 and be
// consecutive.
func parse(r io.Reader) ([]entry, error) {
	var entries []entry

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		splitLine := strings.SplitN(text, ";", 3)
		if len(splitLine) != 3 {
			return nil, fmt.Errorf("line %d: expected index;name;value", line)
		}
		for i, element := range splitLine {
			splitLine[i] = strings.TrimSpace(element)
		}

		index, err := strconv.Atoi(splitLine[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		if index != len(entries) {
			return nil, fmt.Errorf("line %d: index %d out of order", line, index)
		}
		if splitLine[1] == "" {
			return nil, fmt.Errorf("line %d: empty name", line)
		}

		entries = append(entries, entry{name: splitLine[1], value: splitLine[2]})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func generate(entries []entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("// Code generated by tools/staticTable from qpack_static_table.txt. DO NOT EDIT.\n\n")
	buf.WriteString("package table\n\n")
	buf.WriteString("var staticEntries = [...]StaticEntry{\n")
	for _, e := range entries {
		fmt.Fprintf(&buf, "{Name: %q, Value: %q},\n", e.name, e.value)
	}
	buf.WriteString("}\n")

	return format.Source(buf.Bytes())
}
