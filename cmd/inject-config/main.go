// Package main substitutes %VAR% placeholders in a static HTML file with
// values from the environment, so the deployed page carries its public client
// configuration without a separate templating step.
package main

import (
	"flag"
	"log"
	"os"
	"strings"
)

var placeholderVars = []string{
	"CLIENT_AUTH_API_KEY",
	"CLIENT_AUTH_DOMAIN",
	"CLIENT_PROJECT_ID",
	"CLIENT_STORAGE_BUCKET",
	"CLIENT_MESSAGING_SENDER_ID",
	"CLIENT_APP_ID",
}

func main() {
	path := flag.String("file", "web/index.html", "HTML file to rewrite in place")
	flag.Parse()

	content, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read %s: %v", *path, err)
	}

	html := string(content)
	replaced := 0
	for _, name := range placeholderVars {
		value := os.Getenv(name)
		if value == "" {
			log.Printf("warning: %s is not set", name)
			continue
		}
		placeholder := "%" + name + "%"
		if strings.Contains(html, placeholder) {
			html = strings.ReplaceAll(html, placeholder, value)
			replaced++
		}
	}

	if replaced == 0 {
		log.Printf("no placeholders replaced, %s left unchanged", *path)
		return
	}
	if err := os.WriteFile(*path, []byte(html), 0o644); err != nil {
		log.Fatalf("write %s: %v", *path, err)
	}
	log.Printf("replaced %d placeholders in %s", replaced, *path)
}
