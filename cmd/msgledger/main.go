package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"msgledger/internal/app"
	"msgledger/internal/config"
	"msgledger/internal/ledger"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close.
// operation identifies the CLI command being run (e.g. "PostMessage", "Inbox").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.New(cmd.Context(), cfg, operation, readPassphrase, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp closes a and reports a failed snapshot upload without masking
// the command's own result.
func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

// readPassphrase takes the passphrase from MSGLEDGER_PASSPHRASE, or prompts
// for it without echo.
func readPassphrase() (string, error) {
	if p := os.Getenv("MSGLEDGER_PASSPHRASE"); p != "" {
		return p, nil
	}
	return prompt("Passphrase: ")
}

func prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set MSGLEDGER_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// identityArg parses args[0] as an identity, or returns the local identity
// when no argument is given.
func identityArg(a *app.App, args []string) (ledger.Identity, error) {
	if len(args) > 0 {
		return ledger.ParseIdentity(args[0])
	}
	self, err := a.Self()
	if err != nil {
		return ledger.Identity{}, err
	}
	return self.Identity, nil
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05")
}

func printKey(rec *ledger.KeyRecord) {
	status := "active"
	if rec.IsRevoked {
		status = "revoked"
	}
	fmt.Printf("Owner:   %s\n", rec.Owner)
	fmt.Printf("Key:     %s\n", rec.EncryptionKey)
	fmt.Printf("Status:  %s\n", status)
	fmt.Printf("Created: %s\n", formatTime(rec.CreatedAt))
	fmt.Printf("Updated: %s\n", formatTime(rec.UpdatedAt))
}

func printMessage(m *ledger.MessageRecord) {
	read := ""
	if m.IsRead {
		read = "  [read]"
	}
	fmt.Printf("#%d  %s  from:%s  ttl:%ds  %s%s\n",
		m.Sequence,
		formatTime(m.Timestamp),
		m.Sender.Short(),
		m.TTL,
		m.Locator,
		read,
	)
}

var rootCmd = &cobra.Command{
	Use:          "msgledger",
	Short:        "Encrypted messaging metadata ledger",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		ledgerID, _ := cmd.Flags().GetString("ledger")
		if ledgerID == "" {
			var raw [32]byte
			if _, err := rand.Read(raw[:]); err != nil {
				return fmt.Errorf("generating ledger id: %w", err)
			}
			ledgerID = hex.EncodeToString(raw[:])
		}

		cfg := config.NewConfig(ledgerID, defaults.BaseDir)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Ledger ID: %s\n", ledgerID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		archive := cfg.Archive.Type
		if archive == "" {
			archive = "(none)"
		}
		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Ledger ID: %s\n", cfg.LedgerID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Keystore:  %s\n", cfg.Identity.KeystorePath)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Archive:   %s\n", archive)
		return nil
	},
}

// identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local identity",
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a signing key and messaging key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pass := os.Getenv("MSGLEDGER_PASSPHRASE")
		if pass == "" {
			if pass, err = prompt("New passphrase: "); err != nil {
				return err
			}
			confirm, err := prompt("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return fmt.Errorf("passphrases do not match")
			}
		}

		pub, err := app.CreateIdentity(cfg, pass)
		if err != nil {
			return fmt.Errorf("creating identity: %w", err)
		}

		fmt.Printf("Identity:  %s\n", pub.Identity)
		fmt.Printf("Messaging: %s\n", pub.Messaging)
		fmt.Printf("Keystore:  %s\n", cfg.Identity.KeystorePath)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowIdentity")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		self, err := a.Self()
		if err != nil {
			return err
		}
		fmt.Printf("Identity:    %s\n", self.Identity)
		fmt.Printf("Messaging:   %s\n", self.Messaging)
		fmt.Printf("Key address: %s\n", a.Deriver().KeyAddress(self.Identity))
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage messaging keys",
}

var keyRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Publish a messaging key for the local identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		var key ledger.PublicKey
		if raw, _ := cmd.Flags().GetString("key"); raw != "" {
			k, err := ledger.ParsePublicKey(raw)
			if err != nil {
				return err
			}
			key = k
		}

		a, err := newApp(cmd, "RegisterKey")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		rec, err := a.RegisterKey(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("registering key: %w", err)
		}
		printKey(rec)
		return nil
	},
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke the local identity's messaging key",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "RevokeKey")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		rec, err := a.RevokeKey(cmd.Context())
		if err != nil {
			return fmt.Errorf("revoking key: %w", err)
		}
		printKey(rec)
		return nil
	},
}

var keyShowCmd = &cobra.Command{
	Use:   "show [IDENTITY]",
	Short: "Show an identity's messaging key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowKey")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		owner, err := identityArg(a, args)
		if err != nil {
			return err
		}
		rec, err := a.GetKey(cmd.Context(), owner)
		if err != nil {
			return err
		}
		printKey(rec)
		return nil
	},
}

// msg command
var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Post and read messages",
}

var msgPostCmd = &cobra.Command{
	Use:   "post RECIPIENT",
	Short: "Record a message pointer in RECIPIENT's inbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := ledger.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		locator, _ := cmd.Flags().GetString("locator")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		seq, _ := cmd.Flags().GetUint64("seq")

		var ephemeral ledger.PublicKey
		if raw, _ := cmd.Flags().GetString("ephemeral"); raw != "" {
			if ephemeral, err = ledger.ParsePublicKey(raw); err != nil {
				return err
			}
		}

		a, err := newApp(cmd, "PostMessage")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		m, err := a.PostMessage(cmd.Context(), app.PostParams{
			Recipient:    recipient,
			Locator:      locator,
			EphemeralKey: ephemeral,
			TTL:          int64(ttl / time.Second),
			Sequence:     seq,
		})
		if err != nil {
			return fmt.Errorf("posting message: %w", err)
		}
		printMessage(m)
		fmt.Printf("Ephemeral key: %s\n", m.EphemeralKey)
		return nil
	},
}

var msgReadCmd = &cobra.Command{
	Use:   "read SEQ",
	Short: "Mark a message in the local inbox as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[0], err)
		}

		a, err := newApp(cmd, "MarkRead")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		m, err := a.MarkRead(cmd.Context(), seq)
		if err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
		printMessage(m)
		return nil
	},
}

var msgShowCmd = &cobra.Command{
	Use:   "show RECIPIENT SEQ",
	Short: "Show one message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := ledger.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		seq, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[1], err)
		}

		a, err := newApp(cmd, "ShowMessage")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		m, err := a.GetMessage(cmd.Context(), recipient, seq)
		if err != nil {
			return err
		}
		printMessage(m)
		fmt.Printf("Sender:        %s\n", m.Sender)
		fmt.Printf("Ephemeral key: %s\n", m.EphemeralKey)
		return nil
	},
}

// inbox command
var inboxCmd = &cobra.Command{
	Use:   "inbox [RECIPIENT]",
	Short: "List messages in an inbox",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetUint64("from")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "Inbox")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		recipient, err := identityArg(a, args)
		if err != nil {
			return err
		}
		msgs, err := a.Inbox(cmd.Context(), recipient, from, limit)
		if err != nil {
			return err
		}

		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

// events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "View the transition log",
	RunE: func(cmd *cobra.Command, args []string) error {
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp(cmd, "Events")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		events, err := a.Events(cmd.Context(), after, limit)
		if err != nil {
			return err
		}

		switch format {
		case "text":
			if len(events) == 0 {
				fmt.Println("No events recorded.")
				return nil
			}
			return app.WriteEventsText(os.Stdout, events)
		case "yaml":
			return app.WriteEventsYAML(os.Stdout, events)
		case "diag":
			return app.WriteEventsDiag(os.Stdout, events)
		default:
			return fmt.Errorf("unknown format %q (want text, yaml or diag)", format)
		}
	},
}

// address command
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Derive record addresses",
}

// deriver builds the configured ledger's deriver without opening the store.
func deriver() (*ledger.Deriver, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	id, err := ledger.ParseLedgerID(cfg.LedgerID)
	if err != nil {
		return nil, err
	}
	return ledger.NewDeriver(id), nil
}

var addressKeyCmd = &cobra.Command{
	Use:   "key IDENTITY",
	Short: "Address of IDENTITY's key record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ledger.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		d, err := deriver()
		if err != nil {
			return err
		}
		fmt.Println(d.KeyAddress(owner))
		return nil
	},
}

var addressInboxCmd = &cobra.Command{
	Use:   "inbox IDENTITY SEQ",
	Short: "Address of the message at SEQ in IDENTITY's inbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := ledger.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		seq, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[1], err)
		}
		d, err := deriver()
		if err != nil {
			return err
		}
		fmt.Println(d.InboxAddress(recipient, seq))
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local ledger with the archived snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		version, err := app.Restore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored ledger at event %d\n", version)
		return nil
	},
}

// schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the ledger database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Schema")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		schema, err := a.Schema(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("ledger", "", "Join an existing ledger by its hex ID")
	configCmd.AddCommand(configListCmd)

	// identity subcommands
	identityCmd.AddCommand(identityNewCmd)
	identityCmd.AddCommand(identityShowCmd)

	// key subcommands
	keyCmd.AddCommand(keyRegisterCmd)
	keyRegisterCmd.Flags().String("key", "", "Hex X25519 public key (default: the keystore's messaging key)")
	keyCmd.AddCommand(keyRevokeCmd)
	keyCmd.AddCommand(keyShowCmd)

	// msg subcommands
	msgCmd.AddCommand(msgPostCmd)
	msgPostCmd.Flags().String("locator", "", "Where the encrypted content is stored")
	msgPostCmd.Flags().Duration("ttl", 7*24*time.Hour, "How long the message should be kept")
	msgPostCmd.Flags().Uint64("seq", 0, "Inbox sequence number")
	msgPostCmd.Flags().String("ephemeral", "", "Hex ephemeral public key (default: freshly generated)")
	msgPostCmd.MarkFlagRequired("locator")
	msgPostCmd.MarkFlagRequired("seq")
	msgCmd.AddCommand(msgReadCmd)
	msgCmd.AddCommand(msgShowCmd)

	// address subcommands
	addressCmd.AddCommand(addressKeyCmd)
	addressCmd.AddCommand(addressInboxCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(msgCmd)
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().Uint64("from", 1, "First sequence to scan")
	inboxCmd.Flags().IntP("limit", "n", 50, "Number of sequences to scan")
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Int64("after", 0, "Only show events after this sequence")
	eventsCmd.Flags().IntP("limit", "n", 100, "Maximum number of events to show")
	eventsCmd.Flags().String("format", "text", "Output format: text, yaml or diag")
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(schemaCmd)
}
