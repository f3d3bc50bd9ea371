package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/i5heu/revstream"
	"github.com/i5heu/revstream/internal/bundle"
	"github.com/i5heu/revstream/internal/changegroup"
	"github.com/i5heu/revstream/internal/revlog"
	"github.com/i5heu/revstream/pkg/revset"
	"github.com/i5heu/revstream/pkg/types"
)

func main() {
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importSkip := importCmd.Int("skip", 0, "skip the first N revisions")
	importLimit := importCmd.Int("limit", 0, "import at most N revisions, 0 for all")
	importChangeset := importCmd.String("changeset", "", "import exactly this revision (hex)")

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)

	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Println("Usage: blobimport <command> [arguments]")
		fmt.Println("Commands:")
		fmt.Println("  import [-skip N] [-limit N] [-changeset HEX]")
		fmt.Println("  export <changeset-hex>... <output-file>")
		fmt.Println("  check <changeset-hex>")
		os.Exit(1)
	}

	conf := revstream.Config{
		Paths: []string{getDataDir()},
	}
	rs, err := revstream.New(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing store: %v\n", err)
		os.Exit(1)
	}
	defer rs.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "import":
		importCmd.Parse(os.Args[2:])
		opts := revstream.ImportOptions{
			Skip:  *importSkip,
			Limit: *importLimit,
		}
		if *importChangeset != "" {
			csid, err := types.HashFromHex(*importChangeset)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid changeset hash: %v\n", err)
				os.Exit(1)
			}
			opts.Changeset = &csid
		}
		runImport(ctx, rs, opts)

	case "export":
		exportCmd.Parse(os.Args[2:])
		if exportCmd.NArg() < 2 {
			fmt.Println("Usage: blobimport export <changeset-hex>... <output-file>")
			os.Exit(1)
		}
		args := exportCmd.Args()
		runExport(ctx, rs, args[:len(args)-1], args[len(args)-1])

	case "check":
		checkCmd.Parse(os.Args[2:])
		if checkCmd.NArg() < 1 {
			fmt.Println("Usage: blobimport check <changeset-hex>")
			os.Exit(1)
		}
		csid, err := types.HashFromHex(checkCmd.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid changeset hash: %v\n", err)
			os.Exit(1)
		}
		ok, err := rs.HasChangeset(ctx, csid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking changeset: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: present=%v\n", csid, ok)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

// runImport migrates a demo history into the store. Hooking up a real legacy
// log is a matter of implementing interfaces.RevlogRepo for it.
func runImport(ctx context.Context, rs *revstream.Revstream, opts revstream.ImportOptions) {
	repo, err := demoRepo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building demo history: %v\n", err)
		os.Exit(1)
	}

	handles, err := rs.ImportChangesets(ctx, repo, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting import: %v\n", err)
		os.Exit(1)
	}

	imported, failed := 0, 0
	for h := range handles {
		node, err := h.Completed(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "Import failure: %v\n", err)
			continue
		}
		imported++
		fmt.Printf("Imported %s\n", node.Hash)
	}
	fmt.Printf("Done: %d imported, %d failed\n", imported, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func runExport(ctx context.Context, rs *revstream.Revstream, hexIDs []string, outPath string) {
	sets := make([]revset.NodeSet, 0, len(hexIDs))
	for _, hexID := range hexIDs {
		csid, err := types.HashFromHex(hexID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid changeset hash %q: %v\n", hexID, err)
			os.Exit(1)
		}
		sets = append(sets, revset.SingleNode{Node: csid})
	}

	csids, err := revset.Union{Sets: sets}.Resolve(ctx, rs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving export set: %v\n", err)
		os.Exit(1)
	}

	entries := make([]changegroup.NodeEntry, 0, len(csids))
	for _, csid := range csids {
		node, err := rs.GetChangeset(ctx, csid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading changeset %s: %v\n", csid, err)
			os.Exit(1)
		}
		entries = append(entries, changegroup.NodeEntry{
			Node:     csid,
			Blob:     node,
			Linknode: csid,
		})
	}

	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", outPath, err)
		os.Exit(1)
	}
	defer out.Close()

	if err := bundle.ChangegroupPart(entries).Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding changegroup part: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d changesets to %s\n", len(entries), outPath)
}

// demoRepo builds a small linear history so the pipeline can be exercised
// without a real legacy log.
func demoRepo() (*revlog.MemRepo, error) {
	repo := revlog.NewMemRepo()

	first, err := repo.Commit(nil, "demo <demo@example.com>", 1700000000, "initial revision", map[string][]byte{
		"README.md": []byte("# demo\n"),
		"main.go":   []byte("package main\n"),
	})
	if err != nil {
		return nil, err
	}
	_, err = repo.Commit([]types.Hash{first}, "demo <demo@example.com>", 1700000100, "second revision", map[string][]byte{
		"main.go": []byte("package main\n\nfunc main() {}\n"),
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func getDataDir() string {
	if dir := os.Getenv("REVSTREAM_DATA"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".revstream"
	}
	return filepath.Join(home, ".revstream")
}
