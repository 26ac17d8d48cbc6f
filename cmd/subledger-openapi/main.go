// Package main prints the OpenAPI document for the subledger API.
// Routes are registered with stub handlers, so no database, gateway or
// secrets are needed.
//
// Usage:
//
//	go run ./cmd/subledger-openapi > openapi.json
//	go run ./cmd/subledger-openapi -yaml -openapi 3.0 > openapi.yaml
//	go run ./cmd/subledger-openapi -output openapi.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/subledger/internal/http/routes"
	"github.com/jmylchreest/subledger/internal/version"
)

func main() {
	outputFile := flag.String("output", "", "Output file path (default: stdout)")
	outputYAML := flag.Bool("yaml", false, "Output as YAML instead of JSON")
	baseURL := flag.String("base-url", "http://localhost:8080", "Base URL for the API server")
	openAPIVersion := flag.String("openapi", "3.1", "OpenAPI version to emit (3.1 or 3.0)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().Short())
		return
	}

	data, err := render(*baseURL, *openAPIVersion, *outputYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error rendering OpenAPI document: %v\n", err)
		os.Exit(1)
	}

	if *outputFile == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(*outputFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing to file: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "OpenAPI document written to %s\n", *outputFile)
}

// render builds the document from the shared route table.
func render(baseURL, openAPIVersion string, asYAML bool) ([]byte, error) {
	api := humachi.New(chi.NewRouter(), routes.NewHumaConfig(baseURL))
	routes.Register(api, routes.StubHandlers())

	var (
		data []byte
		err  error
	)
	switch openAPIVersion {
	case "3.1", "":
		data, err = json.MarshalIndent(api.OpenAPI(), "", "  ")
	case "3.0":
		data, err = api.OpenAPI().Downgrade()
	default:
		return nil, fmt.Errorf("unsupported OpenAPI version %q", openAPIVersion)
	}
	if err != nil || !asYAML {
		return data, err
	}

	// Round-trip through a generic value so both versions share one YAML path
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
