// Command vaultcli is the interactive entry point for the vault client. It
// loads configuration, resolves an account handle (inline, encrypted file,
// or interactive prompt), wires a session, and drives a line-oriented REPL
// for upload/download/downloadFolder/delete/move/createFolder/dir.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/opacitylabs/vault/internal/config"
	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/keys"
	"github.com/opacitylabs/vault/internal/session"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stdin := bufio.NewReader(os.Stdin)
	handle, err := resolveHandle(cfg, stdin)
	if err != nil {
		logger.Error("failed to resolve account handle", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("vault session starting", slog.String("config", *configPath))

	s, err := session.New(ctx, cfg, handle, logger)
	if err != nil {
		logger.Error("failed to start session", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer s.Close()

	fmt.Println("Connected. Type 'help' or '?' for the command list.")
	runREPL(ctx, s, stdin)

	logger.Info("vault session stopped")
}

// resolveHandle tries the configured inline value or encrypted file first,
// falling back to an interactive prompt (original_source's Opacity CLI
// asks for the handle on every launch; this module additionally supports
// the two config-driven paths so the prompt is only a last resort).
func resolveHandle(cfg *config.Config, stdin *bufio.Reader) (string, error) {
	handle, err := keys.LoadHandle(cfg.Handle.Value, cfg.Handle.EncryptedPath, cfg.Handle.Password)
	if err == nil {
		return handle, nil
	}

	fmt.Println("Your vault account handle:")
	fmt.Print("> ")
	line, readErr := stdin.ReadString('\n')
	if readErr != nil {
		return "", fmt.Errorf("reading handle: %w", readErr)
	}
	handle = strings.TrimSpace(line)
	if len(handle) != 128 {
		return "", fmt.Errorf("handle must be 128 hex characters, got %d", len(handle))
	}
	return handle, nil
}

func runREPL(ctx context.Context, s *session.Session, stdin *bufio.Reader) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return
		}
		args, err := splitCommandLine(line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		if err := dispatch(ctx, s, args); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func dispatch(ctx context.Context, s *session.Session, args []string) error {
	switch args[0] {
	case "help", "?":
		printHelp()
		return nil
	case "upload":
		if len(args) != 3 {
			return fmt.Errorf(`usage: upload "path/to/file" "/dest/folder"`)
		}
		return cmdUpload(ctx, s, args[1], args[2])
	case "download":
		if len(args) != 3 {
			return fmt.Errorf(`usage: download <file handle> "path/to/save"`)
		}
		if len(args[1]) != 128 {
			return fmt.Errorf("file handle must be 128 hex characters, got %d", len(args[1]))
		}
		meta, err := s.Download(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("downloaded %s (%d bytes)\n", meta.Name, meta.Size)
		return nil
	case "downloadFolder":
		if len(args) != 3 {
			return fmt.Errorf(`usage: downloadFolder "/src/folder" "path/to/save"`)
		}
		return cmdDownloadFolder(ctx, s, args[1], args[2])
	case "delete":
		if len(args) != 3 {
			return fmt.Errorf("usage: delete <folder path> <file or folder name>")
		}
		return cmdDelete(ctx, s, args[1], args[2])
	case "move":
		if len(args) != 4 {
			return fmt.Errorf("usage: move <folder path> <file or folder name> <destination folder path>")
		}
		return s.Move(ctx, args[1], args[2], args[3], "")
	case "createFolder":
		if len(args) != 2 {
			return fmt.Errorf("usage: createFolder <folder path>")
		}
		created, err := s.CreateFolder(ctx, args[1])
		if err != nil {
			return err
		}
		if !created {
			fmt.Println("folder already exists")
		}
		return nil
	case "dir":
		if len(args) != 2 {
			return fmt.Errorf("usage: dir <folder path>")
		}
		return cmdDir(ctx, s, args[1])
	default:
		return fmt.Errorf("unrecognized command %q", args[0])
	}
}

// cmdUpload mirrors original_source's acc.upload: the argument may be a
// single file or a directory. A directory recurses via Session.UploadFolder
// (original_source's uploadFolder), creating a same-named folder at destPath
// and every subdirectory beneath it, rather than skipping them.
func cmdUpload(ctx context.Context, s *session.Session, localPath, destPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		_, uploaded, err := s.Upload(ctx, destPath, "", localPath)
		if err != nil {
			return err
		}
		if !uploaded {
			fmt.Printf("%s already exists at %s, skipped\n", filepath.Base(localPath), destPath)
		}
		return nil
	}
	return s.UploadFolder(ctx, destPath, localPath)
}

// cmdDownloadFolder mirrors original_source's downloadFolder/Download_GUI:
// it recursively pulls remotePath (and everything beneath it) into a new
// subdirectory of localDestDir.
func cmdDownloadFolder(ctx context.Context, s *session.Session, remotePath, localDestDir string) error {
	if err := s.DownloadFolder(ctx, remotePath, localDestDir); err != nil {
		return err
	}
	fmt.Printf("downloaded folder %s into %s\n", remotePath, localDestDir)
	return nil
}

func cmdDelete(ctx context.Context, s *session.Session, folderPath, name string) error {
	data, err := s.GetFolderData(ctx, folderPath)
	if err != nil {
		return err
	}
	isFolder := false
	found := false
	for _, f := range data.Folders {
		if f.Name == name {
			isFolder, found = true, true
			break
		}
	}
	if !found {
		for _, f := range data.Files {
			if f.Name == name {
				found = true
				break
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	return s.Delete(ctx, folderPath, name, isFolder)
}

// cmdDir prints the folder's listing built by Session.ListFolder (the C7
// ListFolder read operation); this command is now purely a thin formatter
// over session-provided rows, matching original_source's showFiles/
// getFolderData split rather than deriving the listing itself.
func cmdDir(ctx context.Context, s *session.Session, folderPath string) error {
	entries, err := s.ListFolder(ctx, folderPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsFolder {
			fmt.Printf("[DIR]  %-30s %s\n", e.Name, e.Handle)
			continue
		}
		fmt.Printf("[FILE] %-30s %s  %d bytes\n", e.Name, e.Handle, e.Size)
	}
	return nil
}

func printHelp() {
	fmt.Print("\nUsage:\n" +
		"Paths are absolute from the account root \"/\"; a subfolder looks like \"/sub\".\n\n" +
		`upload "path to file or folder" "/dest folder"` + "\n" +
		`download <file handle> "path to save"` + "\n" +
		`downloadFolder "/src folder" "path to save"` + "\n" +
		"delete <folder path> <file or folder name>\n" +
		"move <folder path> <file or folder name> <destination folder path>\n" +
		"createFolder <folder path>\n" +
		"dir <folder path>\n\n")
}

// splitCommandLine splits one input line into shell-style words, honoring
// double quotes so paths containing spaces can be passed as a single
// argument (original_source's Python CLI uses shlex.split for the same
// reason).
func splitCommandLine(line string) ([]string, error) {
	var words []string
	var cur strings.Builder
	inQuotes := false
	hasToken := false

	for _, r := range strings.TrimRight(line, "\r\n") {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case r == ' ' || r == '\t':
			if inQuotes {
				cur.WriteRune(r)
			} else if hasToken {
				words = append(words, cur.String())
				cur.Reset()
				hasToken = false
			}
		default:
			cur.WriteRune(r)
			hasToken = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote")
	}
	if hasToken {
		words = append(words, cur.String())
	}
	return words, nil
}
