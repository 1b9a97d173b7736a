/*
main.go - Command-line administration tool

PURPOSE:
  Thin CLI over the ROSCA engine for operating a fund from the terminal:
  creating cycles, recording contributions, disbursing and repaying
  loans, advancing periods, and inspecting state.

USAGE:
  rosca [-db=path] <command> [flags]

COMMANDS:
  create-cycle   -name -amount -members (comma-separated member IDs)
  join           -cycle -member [-name]
  pay            -cycle -member -period -amount
  advance        -cycle
  give-loan      -cycle -member
  repay          -loan [-date]
  reverse-loan   -loan
  default-loan   -loan
  grant-adhoc    -member -amount -periods
  activate-adhoc -loan [-date]
  benefit        -cycle -member [-period]
  savings        -member
  status         -cycle

GLOBAL FLAGS:
  -db    SQLite database path (default: rosca.db)
         Use ":memory:" for a throwaway database

EXAMPLES:
  # Four founders, 2000 per period
  rosca -db=./fund.db create-cycle -name="Q3 fund" -amount=2000 -members=a,b,c,d

  # Period 1 contributions
  rosca -db=./fund.db pay -cycle=CYCLE_ID -member=a -period=1 -amount=2000

  # Disburse the pot
  rosca -db=./fund.db give-loan -cycle=CYCLE_ID -member=a

SEE ALSO:
  - engine/engine.go: Facade the commands call into
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rosca-engine/engine"
	"github.com/warp/rosca-engine/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "rosca.db", "SQLite database path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	eng := engine.New(store)
	ctx := context.Background()

	if err := run(ctx, eng, store, args[0], args[1:]); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: rosca [-db=path] <command> [flags]

Commands:
  create-cycle   Create a cycle with its founding members
  join           Add a member to a running cycle (back-pays missed periods)
  pay            Record a period contribution
  advance        Open the next period's collection
  give-loan      Disburse the earliest completed collection to a member
  repay          Record the next loan installment
  reverse-loan   Undo a loan and reopen its collection
  default-loan   Mark an active loan as defaulted
  grant-adhoc    Create a pending loan against a member's savings
  activate-adhoc Hand out a pending ad hoc loan
  benefit        Show a member's proportional benefit
  savings        Show a member's savings ledger
  status         Show cycle collections and loans
`)
}

func run(ctx context.Context, eng *engine.Engine, store *sqlite.Store, cmd string, args []string) error {
	switch cmd {
	case "create-cycle":
		return cmdCreateCycle(ctx, eng, args)
	case "join":
		return cmdJoin(ctx, eng, args)
	case "pay":
		return cmdPay(ctx, eng, args)
	case "advance":
		return cmdAdvance(ctx, eng, args)
	case "give-loan":
		return cmdGiveLoan(ctx, eng, args)
	case "repay":
		return cmdRepay(ctx, eng, args)
	case "reverse-loan":
		return cmdReverseLoan(ctx, eng, args)
	case "default-loan":
		return cmdDefaultLoan(ctx, eng, args)
	case "grant-adhoc":
		return cmdGrantAdHoc(ctx, eng, args)
	case "activate-adhoc":
		return cmdActivateAdHoc(ctx, eng, args)
	case "benefit":
		return cmdBenefit(ctx, eng, args)
	case "savings":
		return cmdSavings(ctx, store, args)
	case "status":
		return cmdStatus(ctx, store, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdCreateCycle(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("create-cycle", flag.ExitOnError)
	name := fs.String("name", "", "cycle name")
	amount := fs.String("amount", "", "per-period contribution amount")
	members := fs.String("members", "", "comma-separated founding member IDs")
	fs.Parse(args)

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount: %w", err)
	}
	var founders []*engine.Member
	for _, id := range strings.Split(*members, ",") {
		if id = strings.TrimSpace(id); id != "" {
			founders = append(founders, &engine.Member{ID: engine.MemberID(id), Name: id})
		}
	}
	if len(founders) == 0 {
		return fmt.Errorf("at least one founding member is required")
	}

	cycle, err := eng.CreateCycle(ctx, *name, amt, founders)
	if err != nil {
		return err
	}
	fmt.Printf("cycle %s created: %d members, %s per period\n",
		cycle.ID, cycle.TotalPeriods, cycle.Amount)
	return nil
}

func cmdJoin(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	cycleID := fs.String("cycle", "", "cycle ID")
	memberID := fs.String("member", "", "member ID")
	name := fs.String("name", "", "member name (for new members)")
	amount := fs.String("amount", "", "per-period amount (default: cycle amount)")
	fs.Parse(args)

	cycle, err := eng.Store.GetCycle(ctx, engine.CycleID(*cycleID))
	if err != nil {
		return err
	}
	amt := cycle.Amount
	if *amount != "" {
		if amt, err = decimal.NewFromString(*amount); err != nil {
			return fmt.Errorf("invalid -amount: %w", err)
		}
	}

	member := &engine.Member{ID: engine.MemberID(*memberID), Name: *name}
	ms, err := eng.JoinCycle(ctx, cycle.ID, member, amt, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("member %s joined at period %d\n", ms.MemberID, ms.JoinPeriod)
	return nil
}

func cmdPay(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("pay", flag.ExitOnError)
	cycleID := fs.String("cycle", "", "cycle ID")
	memberID := fs.String("member", "", "member ID")
	period := fs.Int("period", 0, "period number")
	amount := fs.String("amount", "", "payment amount")
	fs.Parse(args)

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount: %w", err)
	}

	_, totals, err := eng.RecordPayment(ctx, engine.CycleID(*cycleID), *period, engine.MemberID(*memberID), amt, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("period %d: %s / %s collected", *period, totals.Collected, totals.Expected)
	if totals.Completed {
		fmt.Print(" (complete)")
	}
	fmt.Println()
	return nil
}

func cmdAdvance(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("advance", flag.ExitOnError)
	cycleID := fs.String("cycle", "", "cycle ID")
	fs.Parse(args)

	col, err := eng.AdvancePeriod(ctx, engine.CycleID(*cycleID))
	if err != nil {
		return err
	}
	fmt.Printf("period %d open, expecting %s\n", col.Period, col.Expected)
	return nil
}

func cmdGiveLoan(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("give-loan", flag.ExitOnError)
	cycleID := fs.String("cycle", "", "cycle ID")
	memberID := fs.String("member", "", "member ID")
	fs.Parse(args)

	loan, err := eng.GiveLoan(ctx, engine.CycleID(*cycleID), engine.MemberID(*memberID))
	if err != nil {
		return err
	}
	fmt.Printf("loan %s: principal %s, remaining %s over %d periods (%s)\n",
		loan.ID, loan.Principal, loan.Remaining, loan.TotalPeriods, loan.Status)
	return nil
}

func cmdRepay(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("repay", flag.ExitOnError)
	loanID := fs.String("loan", "", "loan ID")
	date := fs.String("date", "", "payment date (YYYY-MM-DD, default today)")
	fs.Parse(args)

	when := time.Now()
	if *date != "" {
		var err error
		when, err = time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
	}

	loan, _, err := eng.RepayLoan(ctx, engine.LoanID(*loanID), when)
	if err != nil {
		return err
	}
	fmt.Printf("loan %s: period %d/%d paid, remaining %s (%s)\n",
		loan.ID, loan.CurrentPeriod, loan.TotalPeriods, loan.Remaining, loan.Status)
	return nil
}

func cmdReverseLoan(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("reverse-loan", flag.ExitOnError)
	loanID := fs.String("loan", "", "loan ID")
	fs.Parse(args)

	if err := eng.ReverseLoan(ctx, engine.LoanID(*loanID)); err != nil {
		return err
	}
	fmt.Printf("loan %s reversed\n", *loanID)
	return nil
}

func cmdDefaultLoan(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("default-loan", flag.ExitOnError)
	loanID := fs.String("loan", "", "loan ID")
	fs.Parse(args)

	if err := eng.MarkDefaulted(ctx, engine.LoanID(*loanID)); err != nil {
		return err
	}
	loan, err := eng.Store.GetLoan(ctx, engine.LoanID(*loanID))
	if err != nil {
		return err
	}
	fmt.Printf("loan %s marked %s, remaining %s\n", loan.ID, loan.Status, loan.Remaining)
	return nil
}

func cmdGrantAdHoc(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("grant-adhoc", flag.ExitOnError)
	memberID := fs.String("member", "", "member ID")
	amount := fs.String("amount", "", "loan amount")
	periods := fs.Int("periods", 0, "repayment periods")
	fs.Parse(args)

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount: %w", err)
	}

	loan, err := eng.GrantAdHocLoan(ctx, engine.MemberID(*memberID), amt, *periods)
	if err != nil {
		return err
	}
	fmt.Printf("loan %s: %s over %d periods (%s)\n",
		loan.ID, loan.Principal, loan.TotalPeriods, loan.Status)
	return nil
}

func cmdActivateAdHoc(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("activate-adhoc", flag.ExitOnError)
	loanID := fs.String("loan", "", "loan ID")
	date := fs.String("date", "", "disbursement date (YYYY-MM-DD, default today)")
	fs.Parse(args)

	when := time.Now()
	if *date != "" {
		var err error
		when, err = time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
	}

	loan, err := eng.ActivateAdHocLoan(ctx, engine.LoanID(*loanID), when)
	if err != nil {
		return err
	}
	fmt.Printf("loan %s active, remaining %s\n", loan.ID, loan.Remaining)
	return nil
}

func cmdBenefit(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("benefit", flag.ExitOnError)
	cycleID := fs.String("cycle", "", "cycle ID")
	memberID := fs.String("member", "", "member ID")
	period := fs.Int("period", 0, "as-of period (default: cycle's current period)")
	fs.Parse(args)

	asOf := *period
	if asOf == 0 {
		cycle, err := eng.Store.GetCycle(ctx, engine.CycleID(*cycleID))
		if err != nil {
			return err
		}
		// The first period is in progress before any advance.
		asOf = cycle.CurrentPeriod
		if asOf < 1 {
			asOf = 1
		}
	}

	b, err := eng.ComputeBenefit(ctx, engine.CycleID(*cycleID), engine.MemberID(*memberID), asOf)
	if err != nil {
		return err
	}
	fmt.Printf("as of period %d: contributed %s of pool %s, benefit %s\n",
		b.AsOf, b.Contributed, b.Pool, b.Benefit)
	return nil
}

func cmdSavings(ctx context.Context, store *sqlite.Store, args []string) error {
	fs := flag.NewFlagSet("savings", flag.ExitOnError)
	memberID := fs.String("member", "", "member ID")
	fs.Parse(args)

	acct, err := store.AccountByMember(ctx, engine.MemberID(*memberID))
	if err != nil {
		return err
	}
	txs, err := store.SavingsTransactions(ctx, acct.ID)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		fmt.Printf("%s  %10s  running %s\n", tx.Date.Format("2006-01-02"), tx.Amount, tx.RunningTotal)
	}
	fmt.Printf("total: %s\n", acct.Total)
	return nil
}

func cmdStatus(ctx context.Context, store *sqlite.Store, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cycleID := fs.String("cycle", "", "cycle ID")
	fs.Parse(args)

	cycle, err := store.GetCycle(ctx, engine.CycleID(*cycleID))
	if err != nil {
		return err
	}
	fmt.Printf("cycle %s (%s): period %d of %d, active=%v\n",
		cycle.ID, cycle.Name, cycle.CurrentPeriod, cycle.TotalPeriods, cycle.Active)

	cols, err := store.Collections(ctx, cycle.ID)
	if err != nil {
		return err
	}
	for _, c := range cols {
		line := fmt.Sprintf("  period %d: %s / %s", c.Period, c.Collected, c.Expected)
		if c.Completed {
			line += " complete"
		}
		if c.LoanDisbursed {
			line += fmt.Sprintf(", disbursed %s to %s", c.LoanAmount, c.LoanMemberID)
		}
		fmt.Println(line)
	}

	loans, err := store.Loans(ctx, cycle.ID)
	if err != nil {
		return err
	}
	for _, l := range loans {
		fmt.Printf("  loan %s: member %s, %s remaining of %s, period %d/%d (%s)\n",
			l.ID, l.MemberID, l.Remaining, l.Principal, l.CurrentPeriod, l.TotalPeriods, l.Status)
	}
	return nil
}
