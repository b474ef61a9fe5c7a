// cmd/riskctl is the operator CLI for the indicator engine's admin API:
// risk status, sizing parameter updates, sizing previews, order listings,
// and live indicator reloads.
//
// Mutating commands need ADMIN_TOTP_SECRET in the environment — the same
// secret the engine validates against — and stamp each request with a fresh
// X-Admin-OTP code.
//
// Usage:
//
//	riskctl status
//	riskctl size 10000 64250
//	riskctl set --risk-per-trade=0.02 --stop-loss=0.015
//	riskctl orders --limit=20
//	riskctl reload indicators.json
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"crypto-systemv1/internal/config"
	"crypto-systemv1/internal/model"
	"crypto-systemv1/internal/portfolio"
)

var (
	engineAddr string

	httpClient = &http.Client{Timeout: 10 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "riskctl",
	Short: "Operator CLI for the indicator engine's risk and admin endpoints",
	Long: `riskctl drives the indicator engine's HTTP admin API.

Read commands (status, size, orders) are unauthenticated. Mutating commands
(set, reload) generate a TOTP code from ADMIN_TOTP_SECRET and send it in the
X-Admin-OTP header; the engine rejects them when the secrets do not match.`,
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current P&L, equity, drawdown, and limits",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var sizeCmd = &cobra.Command{
	Use:   "size <balance> <price>",
	Short: "Preview position sizing for a balance and entry price",
	Args:  cobra.ExactArgs(2),
	RunE:  runSize,
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Update sizing parameters (only the flags you pass change)",
	Args:  cobra.NoArgs,
	RunE:  runSet,
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List the most recent paper orders",
	Args:  cobra.NoArgs,
	RunE:  runOrders,
}

var reloadCmd = &cobra.Command{
	Use:   "reload <configs.json>",
	Short: "Replace the live indicator configuration from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runReload,
}

var (
	setRiskPerTrade float64
	setStopLoss     float64
	setTakeProfit   float64
	setMaxPosition  float64
	ordersLimit     int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&engineAddr, "addr",
		config.GetEnv("INDENGINE_URL", "http://localhost:9095"), "indicator engine base URL")

	setCmd.Flags().Float64Var(&setRiskPerTrade, "risk-per-trade", 0, "fraction of balance risked per trade, e.g. 0.01")
	setCmd.Flags().Float64Var(&setStopLoss, "stop-loss", 0, "stop distance as a fraction of entry, e.g. 0.02")
	setCmd.Flags().Float64Var(&setTakeProfit, "take-profit", 0, "target distance as a fraction of entry, e.g. 0.04")
	setCmd.Flags().Float64Var(&setMaxPosition, "max-position", 0, "max notional per position in quote units")

	ordersCmd.Flags().IntVar(&ordersLimit, "limit", 20, "number of orders to list (max 500)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(reloadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := get("/risk")
	if err != nil {
		return err
	}
	return printIndented(body)
}

func runSize(cmd *cobra.Command, args []string) error {
	balance, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	price, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	body, err := get(fmt.Sprintf("/risk/size?balance=%g&price=%g", balance, price))
	if err != nil {
		return err
	}
	var a portfolio.Assessment
	if err := json.Unmarshal(body, &a); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("position size:  %.6f base units (%.2f notional)\n", a.PositionSize, a.PositionSize*price)
	fmt.Printf("stop loss:      %.2f\n", a.StopLoss)
	fmt.Printf("take profit:    %.2f\n", a.TakeProfit)
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	var update portfolio.ParamsUpdate
	fl := cmd.Flags()
	if fl.Changed("risk-per-trade") {
		update.RiskPerTrade = &setRiskPerTrade
	}
	if fl.Changed("stop-loss") {
		update.StopLossPct = &setStopLoss
	}
	if fl.Changed("take-profit") {
		update.TakeProfitPct = &setTakeProfit
	}
	if fl.Changed("max-position") {
		update.MaxPositionSize = &setMaxPosition
	}
	if update == (portfolio.ParamsUpdate{}) {
		return fmt.Errorf("nothing to update — pass at least one of --risk-per-trade, --stop-loss, --take-profit, --max-position")
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	body, err := postJSON("/risk/params", payload)
	if err != nil {
		return err
	}
	return printIndented(body)
}

func runOrders(cmd *cobra.Command, args []string) error {
	body, err := get(fmt.Sprintf("/orders?limit=%d", ordersLimit))
	if err != nil {
		return err
	}
	var orders []model.Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(orders) == 0 {
		fmt.Println("no orders journaled")
		return nil
	}

	for _, o := range orders {
		fmt.Printf("%-27s %-4s %-18s qty=%-11.6f avg=%-11.2f %-9s %s\n",
			o.OrderID, o.TransactionType, o.Exchange+":"+o.Symbol,
			o.FilledQty, o.AvgPrice, o.Status, o.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%s is not valid JSON", args[0])
	}
	body, err := postJSON("/reload", raw)
	if err != nil {
		return err
	}
	return printIndented(body)
}

// ────────────────────────────────────────────────────────────
// HTTP plumbing
// ────────────────────────────────────────────────────────────

func get(path string) ([]byte, error) {
	resp, err := httpClient.Get(engineAddr + path)
	if err != nil {
		return nil, fmt.Errorf("engine unreachable at %s: %w", engineAddr, err)
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

// postJSON posts a mutating request with a fresh X-Admin-OTP header.
func postJSON(path string, payload []byte) ([]byte, error) {
	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("ADMIN_TOTP_SECRET not set — mutating commands need the admin secret")
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate OTP: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, engineAddr+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-OTP", code)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine unreachable at %s: %w", engineAddr, err)
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}

func printIndented(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
