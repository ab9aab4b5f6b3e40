// Package main provides a CLI for operating a grant pool against the local
// sqlite store: registering recipients, reviewing applications and
// schedules, and distributing milestone payouts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/openpool/grantgate/internal/anchor"
	"github.com/openpool/grantgate/internal/custody"
	"github.com/openpool/grantgate/internal/engine"
	"github.com/openpool/grantgate/internal/metadata"
	"github.com/openpool/grantgate/internal/milestone"
	"github.com/openpool/grantgate/internal/platform/config"
	"github.com/openpool/grantgate/internal/platform/otel"
	"github.com/openpool/grantgate/internal/pool"
	"github.com/openpool/grantgate/internal/recipient"
	"github.com/openpool/grantgate/internal/storage/sqlite"
)

type envConfig struct {
	DBPath string `env:"GRANTGATE_DB_PATH" envDefault:"data/grantgate.db"`
	PoolID string `env:"GRANTGATE_POOL_ID" envDefault:"pool-local"`

	// Managers is a comma-separated list of addresses holding the pool
	// manager role.
	Managers []string `env:"GRANTGATE_MANAGERS" envSeparator:","`
	// Anchors maps anchor identifiers to owner addresses for gated pools.
	Anchors map[string]string `env:"GRANTGATE_ANCHORS" envSeparator:"," envKeyValSeparator:"="`
	// PoolBalance funds the in-process custody ledger for local runs.
	PoolBalance uint64 `env:"GRANTGATE_POOL_BALANCE" envDefault:"0"`

	RegistrationGated        bool `env:"GRANTGATE_REGISTRATION_GATED" envDefault:"false"`
	MetadataRequired         bool `env:"GRANTGATE_METADATA_REQUIRED" envDefault:"false"`
	GrantAmountRequired      bool `env:"GRANTGATE_GRANT_AMOUNT_REQUIRED" envDefault:"false"`
	AllocationOverrideCapped bool `env:"GRANTGATE_OVERRIDE_CAPPED" envDefault:"true"`
	SelfDistributionAllowed  bool `env:"GRANTGATE_SELF_DISTRIBUTION" envDefault:"false"`
	ManagerMilestones        bool `env:"GRANTGATE_MANAGER_MILESTONES" envDefault:"false"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var cfg envConfig
	if err := config.ParseEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	shutdownTracing, err := otel.Setup(ctx, "grantgate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: setup tracing: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown tracing: %v\n", err)
		}
	}()

	eng, closeStore, err := buildEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: close store: %v\n", err)
		}
	}()

	if err := eng.EnsurePool(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: ensure pool: %v\n", err)
		os.Exit(1)
	}

	if err := runCommand(ctx, eng, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildEngine(cfg envConfig) (*engine.Engine, func() error, error) {
	cleanPath := filepath.Clean(cfg.DBPath)
	if cleanPath == "." || cleanPath == "" {
		return nil, nil, fmt.Errorf("db path is required")
	}
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cleanPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite store: %w", err)
	}

	ledger := custody.NewMemoryLedger()
	if cfg.PoolBalance > 0 {
		ledger.Fund(cfg.PoolID, cfg.PoolBalance)
	}

	roles := engine.StaticRoles{}
	for _, address := range cfg.Managers {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		roles[address] = append(roles[address], engine.RoleManager)
	}

	eng, err := engine.New(engine.Config{
		Store:   store,
		Custody: ledger,
		Anchors: anchor.StaticResolver(cfg.Anchors),
		Roles:   roles,
		Pool: pool.Config{
			ID:                       cfg.PoolID,
			RegistrationGated:        cfg.RegistrationGated,
			MetadataRequired:         cfg.MetadataRequired,
			GrantAmountRequired:      cfg.GrantAmountRequired,
			AllocationOverrideCapped: cfg.AllocationOverrideCapped,
			SelfDistributionAllowed:  cfg.SelfDistributionAllowed,
			ManagerMilestones:        cfg.ManagerMilestones,
		},
	})
	if err != nil {
		closeErr := store.Close()
		if closeErr != nil {
			return nil, nil, fmt.Errorf("new engine: %v (close store: %v)", err, closeErr)
		}
		return nil, nil, fmt.Errorf("new engine: %w", err)
	}
	return eng, store.Close, nil
}

func runCommand(ctx context.Context, eng *engine.Engine, command string, args []string) error {
	switch command {
	case "register":
		return runRegister(ctx, eng, args)
	case "in-review":
		return runInReview(ctx, eng, args)
	case "allocate":
		return runAllocate(ctx, eng, args)
	case "set-milestones":
		return runSetMilestones(ctx, eng, args)
	case "review-milestones":
		return runReviewMilestones(ctx, eng, args)
	case "submit":
		return runSubmit(ctx, eng, args)
	case "accept", "reject":
		return runDecideMilestone(ctx, eng, command, args)
	case "distribute":
		return runDistribute(ctx, eng, args)
	case "recipient":
		return runGetRecipient(ctx, eng, args)
	case "recipients":
		return runListRecipients(ctx, eng, args)
	case "milestones":
		return runGetMilestones(ctx, eng, args)
	case "distributions":
		return runListDistributions(ctx, eng, args)
	case "events":
		return runListEvents(ctx, eng, args)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: grantgate <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  register           register or re-register a recipient")
	fmt.Fprintln(os.Stderr, "  in-review          move pending recipients into review")
	fmt.Fprintln(os.Stderr, "  allocate           accept or reject a recipient under review")
	fmt.Fprintln(os.Stderr, "  set-milestones     replace an accepted recipient's schedule")
	fmt.Fprintln(os.Stderr, "  review-milestones  accept or reject a proposed schedule")
	fmt.Fprintln(os.Stderr, "  submit             submit evidence for one milestone")
	fmt.Fprintln(os.Stderr, "  accept / reject    decide one submitted milestone")
	fmt.Fprintln(os.Stderr, "  distribute         pay out unpaid accepted milestones")
	fmt.Fprintln(os.Stderr, "  recipient          show one recipient")
	fmt.Fprintln(os.Stderr, "  recipients         list recipients")
	fmt.Fprintln(os.Stderr, "  milestones         show one recipient's schedule")
	fmt.Fprintln(os.Stderr, "  distributions      list payout records")
	fmt.Fprintln(os.Stderr, "  events             list outbox events")
}

func runRegister(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	recipientID := fs.String("recipient-id", "", "recipient id (anchor identifier on gated pools)")
	payoutAddress := fs.String("payout-address", "", "payout address")
	grantAmount := fs.Uint64("grant-amount", 0, "requested grant amount")
	protocol := fs.Uint64("metadata-protocol", 0, "metadata protocol")
	pointer := fs.String("metadata-pointer", "", "metadata pointer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := eng.Register(ctx, *caller, engine.RegisterInput{
		RecipientID:   *recipientID,
		PayoutAddress: *payoutAddress,
		GrantAmount:   *grantAmount,
		Metadata:      metadata.Metadata{Protocol: *protocol, Pointer: *pointer},
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered recipient %s\n", id)
	return nil
}

func runInReview(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("in-review", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	ids := fs.String("recipient-ids", "", "comma-separated recipient ids")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recipientIDs := splitCSV(*ids)
	if err := eng.SetRecipientsInReview(ctx, *caller, recipientIDs); err != nil {
		return err
	}
	fmt.Printf("moved %d recipients to review\n", len(recipientIDs))
	return nil
}

func runAllocate(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("allocate", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	recipientID := fs.String("recipient-id", "", "recipient id")
	decision := fs.String("decision", "", "accept or reject")
	override := fs.Uint64("grant-amount-override", 0, "replacement grant amount when accepting (0 = keep requested)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	err := eng.Allocate(ctx, *caller, engine.AllocateInput{
		RecipientID:         *recipientID,
		Decision:            recipient.Decision(*decision),
		GrantAmountOverride: *override,
	})
	if err != nil {
		return err
	}
	fmt.Printf("allocation %s recorded for %s\n", *decision, *recipientID)
	return nil
}

func runSetMilestones(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("set-milestones", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	recipientID := fs.String("recipient-id", "", "recipient id")
	percentages := fs.String("percentages", "", "comma-separated milestone percentages (fixed-point, sum must equal 1e18)")
	pointers := fs.String("pointers", "", "comma-separated metadata pointers (optional, positional)")
	protocol := fs.Uint64("metadata-protocol", 0, "metadata protocol for all milestones")
	if err := fs.Parse(args); err != nil {
		return err
	}

	parts := splitCSV(*percentages)
	if len(parts) == 0 {
		return fmt.Errorf("-percentages is required")
	}
	pointerParts := splitCSV(*pointers)
	inputs := make([]milestone.Input, 0, len(parts))
	for i, part := range parts {
		pct, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return fmt.Errorf("parse percentage %q: %w", part, err)
		}
		input := milestone.Input{AmountPercentage: pct}
		if i < len(pointerParts) {
			input.Metadata = metadata.Metadata{Protocol: *protocol, Pointer: pointerParts[i]}
		}
		inputs = append(inputs, input)
	}

	if err := eng.SetMilestones(ctx, *caller, *recipientID, inputs); err != nil {
		return err
	}
	fmt.Printf("schedule of %d milestones set for %s\n", len(inputs), *recipientID)
	return nil
}

func runReviewMilestones(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("review-milestones", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	recipientID := fs.String("recipient-id", "", "recipient id")
	decision := fs.String("decision", "", "accept or reject")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := eng.ReviewMilestones(ctx, *caller, *recipientID, milestone.Decision(*decision)); err != nil {
		return err
	}
	fmt.Printf("schedule review %s recorded for %s\n", *decision, *recipientID)
	return nil
}

func runSubmit(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	recipientID := fs.String("recipient-id", "", "recipient id")
	index := fs.Int("index", -1, "milestone index")
	protocol := fs.Uint64("metadata-protocol", 0, "evidence metadata protocol")
	pointer := fs.String("metadata-pointer", "", "evidence metadata pointer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	meta := metadata.Metadata{Protocol: *protocol, Pointer: *pointer}
	if err := eng.SubmitMilestone(ctx, *caller, *recipientID, *index, meta); err != nil {
		return err
	}
	fmt.Printf("milestone %d submitted for %s\n", *index, *recipientID)
	return nil
}

func runDecideMilestone(ctx context.Context, eng *engine.Engine, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	recipientID := fs.String("recipient-id", "", "recipient id")
	index := fs.Int("index", -1, "milestone index")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if command == "accept" {
		err = eng.AcceptMilestone(ctx, *caller, *recipientID, *index)
	} else {
		err = eng.RejectMilestone(ctx, *caller, *recipientID, *index)
	}
	if err != nil {
		return err
	}
	fmt.Printf("milestone %d %sed for %s\n", *index, command, *recipientID)
	return nil
}

func runDistribute(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("distribute", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	ids := fs.String("recipient-ids", "", "comma-separated recipient ids")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recipientIDs := splitCSV(*ids)
	if err := eng.Distribute(ctx, *caller, recipientIDs); err != nil {
		return err
	}
	fmt.Println("distribution complete")
	return nil
}

func runGetRecipient(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("recipient", flag.ExitOnError)
	recipientID := fs.String("recipient-id", "", "recipient id")
	jsonOutput := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	view, err := eng.GetRecipient(ctx, *recipientID)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return outputJSON(view)
	}
	printRecipient(view)
	return nil
}

func runListRecipients(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("recipients", flag.ExitOnError)
	pageSize := fs.Int("page-size", 50, "page size")
	pageToken := fs.String("page-token", "", "page token")
	jsonOutput := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	views, nextToken, err := eng.ListRecipients(ctx, *pageSize, *pageToken)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return outputJSON(views)
	}
	for _, view := range views {
		printRecipient(view)
	}
	if nextToken != "" {
		fmt.Printf("next page token: %s\n", nextToken)
	}
	return nil
}

func runGetMilestones(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("milestones", flag.ExitOnError)
	recipientID := fs.String("recipient-id", "", "recipient id")
	jsonOutput := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	schedule, err := eng.GetMilestones(ctx, *recipientID)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return outputJSON(schedule)
	}
	for _, m := range schedule {
		fmt.Printf("%d\tpct=%d\tstatus=%s\tsubmitted=%t\tpaid=%t\t%s\n",
			m.Index, m.AmountPercentage, m.Status, m.Submitted, m.Paid, m.Metadata.Pointer)
	}
	return nil
}

func runListDistributions(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("distributions", flag.ExitOnError)
	recipientID := fs.String("recipient-id", "", "filter by recipient id (optional)")
	pageSize := fs.Int("page-size", 50, "page size")
	pageToken := fs.String("page-token", "", "page token")
	jsonOutput := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := eng.ListDistributions(ctx, *recipientID, *pageSize, *pageToken)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return outputJSON(page)
	}
	for _, record := range page.Distributions {
		fmt.Printf("%s\t%s\t%s\tamount=%d\tmilestones=%v\t%s\n",
			record.ID, record.RecipientID, record.PayoutAddress, record.Amount,
			record.MilestoneIndexes, record.CreatedAt.Format(time.RFC3339))
	}
	if page.NextPageToken != "" {
		fmt.Printf("next page token: %s\n", page.NextPageToken)
	}
	return nil
}

func runListEvents(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	pageSize := fs.Int("page-size", 50, "page size")
	pageToken := fs.String("page-token", "", "page token")
	ack := fs.Bool("ack", false, "mark listed events processed")
	jsonOutput := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := eng.ListEvents(ctx, *pageSize, *pageToken)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(page.Events))
	for _, event := range page.Events {
		if event.ProcessedAt == nil {
			ids = append(ids, event.ID)
		}
	}
	if *jsonOutput {
		if err := outputJSON(page); err != nil {
			return err
		}
	} else {
		for _, event := range page.Events {
			processed := "pending"
			if event.ProcessedAt != nil {
				processed = event.ProcessedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", event.ID, event.EventType, event.RecipientID, processed, event.PayloadJSON)
		}
	}
	if *ack && len(ids) > 0 {
		if err := eng.MarkEventsProcessed(ctx, ids, time.Now().UTC()); err != nil {
			return err
		}
		fmt.Printf("acknowledged %d events\n", len(ids))
	}
	if page.NextPageToken != "" {
		fmt.Printf("next page token: %s\n", page.NextPageToken)
	}
	return nil
}

func printRecipient(view engine.RecipientView) {
	r := view.Recipient
	fmt.Printf("%s\tstatus=%s\treview=%s\tpayout=%s\tgrant=%d\tpaid=%d\t%s\n",
		r.ID, r.Status, view.MilestonesReviewStatus, r.PayoutAddress,
		r.GrantAmount, view.PaidAmount, r.Metadata.Pointer)
}

func outputJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	output := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		output = append(output, trimmed)
	}
	return output
}
