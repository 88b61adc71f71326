package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pepperpark/emlreplicator/internal/config"
	"github.com/pepperpark/emlreplicator/internal/credential"
	"github.com/pepperpark/emlreplicator/internal/discover"
	"github.com/pepperpark/emlreplicator/internal/imaputil"
	"github.com/pepperpark/emlreplicator/internal/pipeline"
	"github.com/pepperpark/emlreplicator/internal/report"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emlreplicator",
		Short: "Read EML files and copy them to an IMAP mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("emlreplicator %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			if date != "" {
				fmt.Printf(" built %s", date)
			}
			fmt.Println()
			os.Exit(0)
		}
	}

	uploadCmd := &cobra.Command{
		Use:   "upload IMAP_SERVER [DIR]",
		Short: "Copy the EML files of DIR (default: current directory) to the IMAP server",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runUpload,
	}
	addConnFlags(uploadCmd)
	uploadCmd.Flags().BoolP(config.KeyRecursive, "r", false, "Goes through the directory recursively to find EML files")
	uploadCmd.Flags().BoolP(config.KeyFollowSymlink, "s", false, "Follow symlinks when crawling the directory recursively")
	uploadCmd.Flags().String(config.KeyExtension, "eml", "Extension of the files to upload, without dot")
	rootCmd.AddCommand(uploadCmd)

	mboxCmd := &cobra.Command{
		Use:   "mbox IMAP_SERVER FILE",
		Short: "Copy every message of an MBOX file to the IMAP server",
		Args:  cobra.ExactArgs(2),
		RunE:  runMbox,
	}
	addConnFlags(mboxCmd)
	rootCmd.AddCommand(mboxCmd)

	keyringCmd := &cobra.Command{
		Use:   "keyring IMAP_SERVER",
		Short: "Store the mailbox password in the system keyring for --keyring",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeyring,
	}
	keyringCmd.Flags().StringP(config.KeyLogin, "l", "", "login of the mailbox")
	rootCmd.AddCommand(keyringCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run options that only steer the command line, not the transfer itself
type cliOptions struct {
	configFile     string
	passwordPrompt bool
	useKeyring     bool
	noTUI          bool
}

type ctxKey struct{}

func addConnFlags(cmd *cobra.Command) {
	o := &cliOptions{}
	cmd.SilenceUsage = true
	f := cmd.Flags()
	f.Int(config.KeyPort, 993, "Port to connect to the IMAP server")
	f.StringP(config.KeyLogin, "l", "", "login of the mailbox")
	f.StringP(config.KeyPassword, "p", "", "password of the mailbox")
	f.StringP(config.KeyFolder, "f", "INBOX", "IMAP folder in which to put the messages")
	f.Bool(config.KeyRandomID, false, "Randomize the Message-ID of each message before sending it")
	f.Bool(config.KeySkipVerifyCert, false, "Skip checking the server certificate when connecting over TLS")
	f.Bool(config.KeyStartTLS, false, "Use STARTTLS instead of implicit TLS")
	f.Bool(config.KeyKeepDate, false, "Use the Date header as the IMAP internal date")
	f.Bool(config.KeyCreateFolder, false, "Create the target folder if it does not exist")
	f.Bool(config.KeyDryRun, false, "Don't connect, just list what would be copied")
	f.String(config.KeyReport, "", "Write a JSON report of the run to this file")
	f.Bool(config.KeyVerbose, false, "Log every copied message")

	f.StringVar(&o.configFile, "config", "", "YAML config file")
	f.BoolVar(&o.passwordPrompt, "password-prompt", false, "Prompt for the password (no echo)")
	f.BoolVar(&o.useKeyring, "keyring", false, "Read the password from the system keyring")
	f.BoolVar(&o.noTUI, "no-tui", false, "Plain log output instead of the progress bar")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, o))
		return nil
	}
}

// loadConfig merges config file, environment and flags, then applies the
// positional arguments and resolves the password.
func loadConfig(cmd *cobra.Command, positional map[string]string) (config.Config, *cliOptions, error) {
	o := cmd.Context().Value(ctxKey{}).(*cliOptions)
	v, err := config.New(o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		if err := v.BindPFlag(fl.Name, fl); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return config.Config{}, nil, bindErr
	}
	for k, val := range positional {
		v.Set(k, val)
	}
	cfg := config.Load(v)

	if !cfg.DryRun && cfg.Password == "" {
		switch {
		case o.passwordPrompt:
			pass, err := promptPassword("Password: ")
			if err != nil {
				return config.Config{}, nil, err
			}
			cfg.Password = pass
		case o.useKeyring:
			pass, err := credential.NewStore().Get(cfg.CredentialKey())
			if err != nil {
				return config.Config{}, nil, err
			}
			cfg.Password = pass
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, o, nil
}

func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	positional := map[string]string{config.KeyServer: args[0]}
	if len(args) == 2 {
		positional[config.KeyDirectory] = args[1]
	}
	cfg, o, err := loadConfig(cmd, positional)
	if err != nil {
		return err
	}

	files, err := discover.Discover(cfg.Directory, cfg.Recursive, cfg.FollowSymlink, cfg.Extension)
	if err != nil {
		return err
	}
	fmt.Printf("%s found:\n", strings.ToUpper(cfg.Extension))
	for _, p := range files {
		fmt.Println("-", p)
	}
	if cfg.RandomID {
		fmt.Println("Randomizing Message-IDs.")
	}

	return transfer(cmd.Context(), cfg, o, len(files), func(ctx context.Context, u *pipeline.Uploader) error {
		return u.UploadFiles(ctx, files)
	})
}

func runMbox(cmd *cobra.Command, args []string) error {
	cfg, o, err := loadConfig(cmd, map[string]string{config.KeyServer: args[0]})
	if err != nil {
		return err
	}
	path := args[1]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	total, err := countMboxMessages(f)
	if err != nil {
		return fmt.Errorf("read mbox: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	fmt.Printf("%d message(s) found in %s\n", total, path)
	if cfg.RandomID {
		fmt.Println("Randomizing Message-IDs.")
	}

	name := filepath.Base(path)
	return transfer(cmd.Context(), cfg, o, total, func(ctx context.Context, u *pipeline.Uploader) error {
		return u.UploadMbox(ctx, f, name, total)
	})
}

// transfer runs work with a fresh Uploader, showing progress, and writes the
// report whatever the outcome.
func transfer(ctx context.Context, cfg config.Config, o *cliOptions, total int, work func(context.Context, *pipeline.Uploader) error) error {
	ensure := ""
	if cfg.CreateFolder {
		ensure = cfg.Folder
	}
	rep := report.New(cfg.Folder)
	opts := pipeline.Options{
		Folder:      cfg.Folder,
		RandomizeID: cfg.RandomID,
		KeepDate:    cfg.KeepDate,
		DryRun:      cfg.DryRun,
	}

	useTUI := !o.noTUI && !cfg.Verbose && term.IsTerminal(int(os.Stdout.Fd()))
	var err error
	if useTUI {
		opts.Quiet = true
		err = runProgressTUI(ctx, total, func(ctx context.Context, onEvent func(pipeline.Event)) error {
			opts.OnEvent = onEvent
			return runUploader(ctx, cfg, ensure, rep, opts, work)
		})
	} else {
		opts.OnEvent = plainProgress(cfg.Verbose)
		err = runUploader(ctx, cfg, ensure, rep, opts, work)
	}

	rep.Finish(err)
	if serr := rep.Save(cfg.ReportPath); serr != nil {
		err = errors.Join(err, fmt.Errorf("save report: %w", serr))
	}
	if err != nil {
		return err
	}
	fmt.Println(pipeline.Describe(rep.Counts(), cfg.DryRun))
	return nil
}

func runUploader(ctx context.Context, cfg config.Config, ensure string, rep *report.Report, opts pipeline.Options, work func(context.Context, *pipeline.Uploader) error) error {
	u := pipeline.New(imaputil.Dialer(cfg.Endpoint(), ensure), rep, opts)
	defer u.Close()
	return work(ctx, u)
}

func runKeyring(cmd *cobra.Command, args []string) error {
	login, _ := cmd.Flags().GetString(config.KeyLogin)
	if login == "" {
		return errors.New("missing --login")
	}
	pass, err := promptPassword("Password to store: ")
	if err != nil {
		return err
	}
	cfg := config.Config{Server: args[0], Login: login}
	if err := credential.NewStore().Set(cfg.CredentialKey(), pass); err != nil {
		return err
	}
	fmt.Printf("Stored password for %s\n", cfg.CredentialKey())
	return nil
}

func countMboxMessages(r io.Reader) (int, error) {
	// Count lines beginning with 'From ' which separate messages.
	br := bufio.NewReader(r)
	count := 0
	for {
		line, err := br.ReadString('\n')
		if strings.HasPrefix(line, "From ") {
			count++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return count, nil
}
