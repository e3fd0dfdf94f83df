// Command keyledger issues and redeems license keys and answers entitlement
// queries against the configured store.
//
// Usage:
//
//	keyledger <command> [flags]
//
// Commands:
//
//	issue         generate a batch of keys
//	redeem        redeem a key for a subject
//	status        show whether a subject is entitled and the time left
//	inspect       print a subject's entitlement record as JSON
//	grant         credit a subject without a key
//	revoke        delete an unredeemed key
//	list          list keys
//	entitlements  list entitlements
//	stats         show key inventory counts
//	export        write keys to .xlsx or .csv
//	serve         run the ops server (/healthz, /readyz, /metrics)
//	version       print build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"

	"keyledger/internal/app"
	"keyledger/internal/config"
	apperrors "keyledger/internal/errors"
	"keyledger/internal/infrastructure"
	"keyledger/internal/license"
	"keyledger/pkg/contracts"
	"keyledger/pkg/contracts/domain"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	if err := run(ctx, os.Args[1:], cfg, logger, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", apperrors.KindOf(err), err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: keyledger <issue|redeem|status|inspect|grant|revoke|list|entitlements|stats|export|serve|version> [flags]")
}

// run executes one subcommand against a freshly opened application
func run(ctx context.Context, args []string, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	command, args := args[0], args[1:]
	if command == "version" {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return nil
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var exec func(ctx context.Context, a *app.Application) error

	switch command {
	case "issue":
		count := fs.Int("count", 1, "number of keys to generate")
		class := fs.String("class", string(domain.Class30Days), "duration class: 7d | 30d | 90d | perm")
		pretty := fs.Bool("pretty", false, "group codes in blocks of four")
		exec = func(ctx context.Context, a *app.Application) error {
			codes, err := a.License.Issue(ctx, *count, *class)
			if err != nil {
				return err
			}
			for _, code := range codes {
				if *pretty {
					code = license.FormatCode(code)
				}
				fmt.Fprintln(stdout, code)
			}
			return nil
		}

	case "redeem":
		code := fs.String("code", "", "key code")
		subject := fs.String("subject", "", "subject id")
		exec = func(ctx context.Context, a *app.Application) error {
			grant, err := a.License.Redeem(ctx, *code, *subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "redeemed %s for %s\n", grant, *subject)
			return nil
		}

	case "status":
		subject := fs.String("subject", "", "subject id")
		exec = func(ctx context.Context, a *app.Application) error {
			entitled, err := a.License.IsEntitled(ctx, *subject)
			if err != nil {
				return err
			}
			remaining, err := a.License.Remaining(ctx, *subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "entitled: %t\nremaining: %s\n", entitled, remaining)
			return nil
		}

	case "inspect":
		subject := fs.String("subject", "", "subject id")
		exec = func(ctx context.Context, a *app.Application) error {
			ent, err := a.License.Inspect(ctx, *subject)
			if err != nil {
				return err
			}
			return writeJSON(stdout, ent)
		}

	case "grant":
		subject := fs.String("subject", "", "subject id")
		class := fs.String("class", "", "duration class: 7d | 30d | 90d | perm")
		exec = func(ctx context.Context, a *app.Application) error {
			ent, err := a.License.Grant(ctx, *subject, *class)
			if err != nil {
				return err
			}
			return writeJSON(stdout, ent)
		}

	case "revoke":
		code := fs.String("code", "", "key code")
		exec = func(ctx context.Context, a *app.Application) error {
			if err := a.License.RevokeKey(ctx, *code); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "revoked %s\n", license.MaskCode(license.NormalizeCode(*code)))
			return nil
		}

	case "list":
		filter := keyFilterFlags(fs)
		exec = func(ctx context.Context, a *app.Application) error {
			f, err := filter()
			if err != nil {
				return err
			}
			keys, err := a.License.ListKeys(ctx, f)
			if err != nil {
				return err
			}
			return writeKeys(stdout, keys)
		}

	case "entitlements":
		activeOnly := fs.Bool("active", false, "only active entitlements")
		exec = func(ctx context.Context, a *app.Application) error {
			ents, err := a.License.ListEntitlements(ctx, *activeOnly)
			if err != nil {
				return err
			}
			return writeEntitlements(stdout, ents)
		}

	case "stats":
		exec = func(ctx context.Context, a *app.Application) error {
			stats, err := a.License.Stats(ctx)
			if err != nil {
				return err
			}
			return writeStats(stdout, stats)
		}

	case "export":
		out := fs.String("out", "exports/keys.xlsx", "output file (.xlsx or .csv)")
		filter := keyFilterFlags(fs)
		exec = func(ctx context.Context, a *app.Application) error {
			f, err := filter()
			if err != nil {
				return err
			}
			n, err := a.License.ExportKeys(ctx, *out, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "exported %d keys to %s\n", n, *out)
			return nil
		}

	case "serve":
		exec = func(ctx context.Context, a *app.Application) error {
			return a.Serve(ctx)
		}

	default:
		return errUsage
	}

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close(context.WithoutCancel(ctx))

	return exec(ctx, application)
}

// keyFilterFlags registers the shared key filter flags. The returned func
// resolves class aliases once the flags are parsed.
func keyFilterFlags(fs *flag.FlagSet) func() (domain.KeyFilter, error) {
	state := fs.String("state", string(domain.KeyStateAll), "all | used | unused")
	class := fs.String("class", "", "duration class: 7d | 30d | 90d | perm")
	limit := fs.Int("limit", 0, "maximum number of keys (0 = no limit)")
	return func() (domain.KeyFilter, error) {
		filter := domain.KeyFilter{
			State: domain.KeyState(*state),
			Limit: *limit,
		}
		if *class != "" {
			parsed, err := domain.ParseClass(*class)
			if err != nil {
				return filter, fmt.Errorf("%w: %v", errUsage, err)
			}
			filter.Class = parsed
		}
		return filter, nil
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeKeys(w io.Writer, keys []domain.LicenseKey) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tCLASS\tUSED\tREDEEMED BY\tCREATED")
	for _, key := range keys {
		redeemedBy := "-"
		if key.RedeemedBy != nil {
			redeemedBy = *key.RedeemedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			key.Code, key.Class, key.Used, redeemedBy, key.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func writeEntitlements(w io.Writer, ents []domain.Entitlement) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tACTIVATED\tEXPIRES")
	for _, ent := range ents {
		expires := "permanent"
		if ent.ExpiresAt != nil {
			expires = ent.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ent.SubjectID, ent.ActivatedAt.Format("2006-01-02 15:04"), expires)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, stats *domain.KeyStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tTOTAL\tAVAILABLE")

	classes := make([]string, 0, len(stats.ByClass))
	for class := range stats.ByClass {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	for _, class := range classes {
		cs := stats.ByClass[domain.DurationClass(class)]
		fmt.Fprintf(tw, "%s\t%d\t%d\n", class, cs.Total, cs.Available)
	}
	fmt.Fprintf(tw, "all\t%d\t%d\n", stats.Total, stats.Available)
	return tw.Flush()
}
