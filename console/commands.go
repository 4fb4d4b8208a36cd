package console

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/internal/units"
	"github.com/ggoodman/hush/ledger"
	"github.com/ggoodman/hush/orchestrator"
	"github.com/olekukonko/tablewriter"
)

type command struct {
	name    string
	usage   string
	help    string
	minArgs int
	// maxArgs is -1 for unbounded.
	maxArgs int
	run     func(ctx context.Context, args []string) error
}

func (c *Console) register() {
	cmds := []*command{
		{name: "help", usage: "help", help: "List commands", maxArgs: 0, run: c.cmdHelp},
		{name: "get-started", usage: "get-started", help: "Walk through a first private supply", maxArgs: 0, run: c.cmdGetStarted},
		{name: "clear", usage: "clear", help: "Clear the screen", maxArgs: 0, run: c.cmdClear},
		{name: "exit", usage: "exit", help: "Leave the console", maxArgs: 0, run: func(context.Context, []string) error { return ErrExit }},
		{name: "login", usage: "login", help: "Sign in with the wallet and open the private session", maxArgs: 0, run: c.cmdLogin},
		{name: "import", usage: "import <seed words...>", help: "Replace the private identity with a backed-up seed", minArgs: 12, maxArgs: 24, run: c.cmdImport},
		{name: "logout", usage: "logout", help: "Close the session, keeping it stored", maxArgs: 0, run: c.cmdLogout},
		{name: "forget", usage: "forget", help: "Delete the stored session for this wallet", maxArgs: 0, run: c.cmdForget},
		{name: "status", usage: "status", help: "Show the active session", maxArgs: 0, run: c.cmdStatus},
		{name: "supply", usage: "supply <amount>", help: "Open a private supply position", minArgs: 1, maxArgs: 1, run: c.cmdSupply},
		{name: "withdraw", usage: "withdraw <positionId> <amount|max> [authSecret]", help: "Withdraw from a position", minArgs: 2, maxArgs: 3, run: c.cmdWithdraw},
		{name: "borrow", usage: "borrow <positionId> <amount> [authSecret]", help: "Borrow against a position", minArgs: 2, maxArgs: 3, run: c.positionCmd("borrow")},
		{name: "repay", usage: "repay <positionId> <amount> [authSecret]", help: "Repay a position's debt", minArgs: 2, maxArgs: 3, run: c.positionCmd("repay")},
		{name: "show-positions", usage: "show-positions", help: "List positions for this identity", maxArgs: 0, run: c.cmdPositions},
		{name: "position-auth", usage: "position-auth <positionId> [authSecret]", help: "Show a position's secret, or restore one from backup", minArgs: 1, maxArgs: 2, run: c.cmdPositionAuth},
		{name: "shield", usage: "shield <amount>", help: "Move public funds into the private balance", minArgs: 1, maxArgs: 1, run: c.cmdShield},
		{name: "unshield", usage: "unshield <amount> [recipient]", help: "Move private funds to a public address", minArgs: 1, maxArgs: 2, run: c.cmdUnshield},
		{name: "balance", usage: "balance", help: "Show private balances", maxArgs: 0, run: c.cmdBalance},
	}
	c.commands = make(map[string]*command, len(cmds))
	for _, cmd := range cmds {
		c.commands[cmd.name] = cmd
	}
	c.aliases = map[string]string{
		"quit":             "exit",
		"?":                "help",
		"private-supply":   "supply",
		"private-withdraw": "withdraw",
		"private-borrow":   "borrow",
		"private-repay":    "repay",
		"positions":        "show-positions",
		"supply-positions": "show-positions",
		"private-balance":  "balance",
	}
}

func (c *Console) cmdHelp(context.Context, []string) error {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(c.out, "  %-50s %s\n", cmd.usage, c.p.muted.Sprint(cmd.help))
	}
	return nil
}

func (c *Console) cmdGetStarted(context.Context, []string) error {
	steps := []string{
		"login                 sign once with your wallet; a private identity is created or restored",
		"shield 10             move 10 tokens into your private balance",
		"supply 5              open a private supply position; back up the secret it prints",
		"show-positions        list positions and whether their secrets are held locally",
		"withdraw <id> max     withdraw everything and close the position",
	}
	c.p.title.Fprintln(c.out, "Getting started")
	for i, s := range steps {
		fmt.Fprintf(c.out, "  %d. %s\n", i+1, s)
	}
	c.p.muted.Fprintln(c.out, "Every action spends the position's secret and issues a new one. Keep the latest secret for each position.")
	return nil
}

func (c *Console) cmdClear(context.Context, []string) error {
	fmt.Fprint(c.out, "\033[H\033[2J")
	return nil
}

func (c *Console) cmdLogin(ctx context.Context, _ []string) error {
	res, err := c.actions.Login(ctx)
	if err != nil {
		return err
	}
	c.printLogin(res)
	return nil
}

func (c *Console) cmdImport(ctx context.Context, args []string) error {
	res, err := c.actions.Import(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	c.printLogin(res)
	return nil
}

func (c *Console) printLogin(res *orchestrator.LoginResult) {
	if res.Created {
		c.p.warn.Fprintln(c.out, "New private identity created. Write down this recovery phrase; it is shown once:")
		c.p.warn.Fprintf(c.out, "  %s\n", res.Mnemonic)
	}
	c.p.ok.Fprintln(c.out, "Private session ready")
	c.printStatus(&res.Status)
	for _, s := range res.Skipped {
		c.p.warn.Fprintf(c.out, "Skipped unreadable stored position entry %q\n", s)
	}
}

func (c *Console) printStatus(s *orchestrator.Status) {
	fmt.Fprintf(c.out, "  Wallet:          %s\n", s.Owner.Hex())
	fmt.Fprintf(c.out, "  Private address: %s\n", s.PrivateAddress)
	fmt.Fprintf(c.out, "  Chain:           %d\n", s.ChainID)
	fmt.Fprintf(c.out, "  Known positions: %d\n", s.Positions)
}

func (c *Console) cmdLogout(ctx context.Context, _ []string) error {
	if err := c.actions.Logout(ctx); err != nil {
		return err
	}
	c.p.ok.Fprintln(c.out, "Logged out")
	return nil
}

func (c *Console) cmdForget(ctx context.Context, _ []string) error {
	if err := c.actions.Forget(ctx); err != nil {
		return err
	}
	c.p.ok.Fprintln(c.out, "Stored session removed")
	return nil
}

func (c *Console) cmdStatus(ctx context.Context, _ []string) error {
	s, err := c.actions.Status(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		c.p.muted.Fprintln(c.out, "No active private session. Run `login` first.")
		return nil
	}
	c.printStatus(s)
	return nil
}

func (c *Console) cmdSupply(ctx context.Context, args []string) error {
	amount, err := parseAmount(args[0], c.decimals.Supply)
	if err != nil {
		return err
	}
	res, err := c.actions.Supply(ctx, amount)
	if res != nil {
		c.printResult(res, c.decimals.Supply)
	}
	return err
}

func (c *Console) cmdWithdraw(ctx context.Context, args []string) error {
	req, err := c.positionRequest(args, c.decimals.Supply, true)
	if err != nil {
		return err
	}
	res, err := c.actions.Withdraw(ctx, req)
	if res != nil {
		c.printResult(res, c.decimals.Supply)
	}
	return err
}

func (c *Console) positionCmd(action string) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		req, err := c.positionRequest(args, c.decimals.Borrow, false)
		if err != nil {
			return err
		}
		run := c.actions.Borrow
		if action == "repay" {
			run = c.actions.Repay
		}
		res, err := run(ctx, req)
		if res != nil {
			c.printResult(res, c.decimals.Borrow)
		}
		return err
	}
}

func (c *Console) positionRequest(args []string, decimals uint8, allowMax bool) (orchestrator.PositionAction, error) {
	var req orchestrator.PositionAction
	id, err := parsePositionID(args[0])
	if err != nil {
		return req, err
	}
	req.PositionID = id
	if !(allowMax && strings.EqualFold(args[1], "max")) {
		if req.Amount, err = parseAmount(args[1], decimals); err != nil {
			return req, err
		}
	}
	if len(args) > 2 {
		s, err := parseSecret(args[2])
		if err != nil {
			return req, err
		}
		req.Secret = &s
	}
	return req, nil
}

func (c *Console) cmdPositions(ctx context.Context, _ []string) error {
	views, err := c.actions.Positions(ctx)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		c.p.muted.Fprintln(c.out, "No positions yet. Run `supply <amount>` to open one.")
		return nil
	}
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"ID", "Amount", "Vault", "State", "Secret"})
	table.SetAutoWrapText(false)
	for _, v := range views {
		secret := "missing"
		switch {
		case v.State == ledger.Closed:
			secret = "spent"
		case v.Authorized:
			secret = "held"
		case v.State == ledger.Open:
			secret = "mismatch"
		}
		table.Append([]string{
			strconv.FormatUint(v.ID, 10),
			units.Format(v.Amount, c.decimals.Supply),
			shortAddress(v.Vault),
			v.State.String(),
			secret,
		})
	}
	table.Render()
	return nil
}

func (c *Console) cmdPositionAuth(ctx context.Context, args []string) error {
	id, err := parsePositionID(args[0])
	if err != nil {
		return err
	}
	var secret *ledger.Secret
	if len(args) > 1 {
		s, err := parseSecret(args[1])
		if err != nil {
			return err
		}
		secret = &s
	}
	view, err := c.actions.PositionAuth(ctx, id, secret)
	if err != nil {
		return err
	}
	if secret != nil {
		c.p.ok.Fprintf(c.out, "Secret for position #%d restored\n", id)
	}
	fmt.Fprintf(c.out, "Position #%d secret: %s\n", id, c.p.warn.Sprint(view.Secret.Hex()))
	switch {
	case !view.Verified:
		c.p.muted.Fprintln(c.out, "  Not verified against the chain")
	case view.Matches:
		c.p.ok.Fprintln(c.out, "  Matches the on-chain authorization")
	default:
		c.p.fail.Fprintln(c.out, "  Does not match the on-chain authorization")
	}
	return nil
}

func (c *Console) cmdShield(ctx context.Context, args []string) error {
	amount, err := parseAmount(args[0], c.decimals.Supply)
	if err != nil {
		return err
	}
	res, err := c.actions.Shield(ctx, amount)
	if res != nil {
		c.printResult(res, c.decimals.Supply)
	}
	return err
}

func (c *Console) cmdUnshield(ctx context.Context, args []string) error {
	amount, err := parseAmount(args[0], c.decimals.Supply)
	if err != nil {
		return err
	}
	var recipient common.Address
	if len(args) > 1 {
		if !common.IsHexAddress(args[1]) {
			return errs.New(errs.KindInvalidInput, "invalid recipient %q", args[1])
		}
		recipient = common.HexToAddress(args[1])
	}
	res, err := c.actions.Unshield(ctx, amount, recipient)
	if res != nil {
		c.printResult(res, c.decimals.Supply)
	}
	return err
}

func (c *Console) cmdBalance(ctx context.Context, _ []string) error {
	b, err := c.actions.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  Private address: %s\n", b.PrivateAddress)
	fmt.Fprintf(c.out, "  %s: %s\n", shortAddress(b.SupplyToken), units.Format(b.Supply, c.decimals.Supply))
	if b.Borrow != nil {
		fmt.Fprintf(c.out, "  %s: %s\n", shortAddress(b.BorrowToken), units.Format(b.Borrow, c.decimals.Borrow))
	}
	return nil
}

func (c *Console) printResult(res *orchestrator.Result, decimals uint8) {
	if res.TxHash != (common.Hash{}) {
		c.p.ok.Fprintf(c.out, "%s confirmed: %s\n", res.Action, res.TxHash.Hex())
	}
	if res.Amount != nil {
		fmt.Fprintf(c.out, "  Amount: %s\n", units.Format(res.Amount, decimals))
	}
	if res.Retried {
		c.p.muted.Fprintln(c.out, "  Max withdrawal was reduced by one unit to clear pool rounding")
	}
	switch {
	case res.Closed:
		c.p.ok.Fprintf(c.out, "  Position #%d closed\n", res.PositionID)
	case !res.Secret.IsZero() && res.Detected:
		c.p.warn.Fprintf(c.out, "  New secret for position #%d: %s\n", res.PositionID, res.Secret.Hex())
		c.p.muted.Fprintln(c.out, "  Back this up. The previous secret no longer authorizes this position.")
	case !res.Secret.IsZero():
		c.p.warn.Fprintf(c.out, "  Position id not detected. Secret for the new position: %s\n", res.Secret.Hex())
		c.p.muted.Fprintln(c.out, "  Use `position-auth <id> <secret>` once the id is known.")
	}
}

func parseAmount(s string, decimals uint8) (*big.Int, error) {
	v, err := units.Parse(s, decimals)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "invalid amount %q", s)
	}
	if v.Sign() <= 0 {
		return nil, errs.New(errs.KindInvalidInput, "amount must be greater than zero")
	}
	return v, nil
}

func parsePositionID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, errs.New(errs.KindInvalidInput, "invalid position id %q", s)
	}
	return id, nil
}

func parseSecret(s string) (ledger.Secret, error) {
	secret, err := ledger.ParseSecret(s)
	if err != nil {
		return ledger.Secret{}, errs.Wrap(errs.KindInvalidInput, err, "invalid auth secret")
	}
	return secret, nil
}

func shortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}
