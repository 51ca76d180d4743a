package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/lumenca/holdfast/gate"
	"github.com/lumenca/holdfast/internal/clifmt"
)

var (
	requestAmount   float64
	requestCurrency string
	requestMeta     []string
	approveActor    string
	denyActor       string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print pending approvals as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		g, cleanup, err := openGate(log)
		if err != nil {
			return err
		}
		defer cleanup()

		pending, err := g.ListPending(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pending)
	},
}

var requestCmd = &cobra.Command{
	Use:   "request <description>",
	Short: "File a pending approval for an action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		g, cleanup, err := openGate(log)
		if err != nil {
			return err
		}
		defer cleanup()

		req := gate.Request{
			Description: args[0],
			Currency:    requestCurrency,
			Metadata:    parseMeta(requestMeta),
		}
		if cmd.Flags().Changed("amount") {
			req.Amount = &requestAmount
		}

		rec, err := g.CreateRequest(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println(clifmt.Success("requested"), rec.ID)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id> [lock_code]",
	Short: "Approve a pending request",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		g, cleanup, err := openGate(log)
		if err != nil {
			return err
		}
		defer cleanup()

		lockCode := ""
		if len(args) > 1 {
			lockCode = args[1]
		} else if strings.TrimSpace(viper.GetString("lock_code")) != "" {
			lockCode, err = promptLockCode()
			if err != nil {
				return err
			}
		}

		if _, err := g.Approve(cmd.Context(), args[0], approveActor, lockCode); err != nil {
			fmt.Println(clifmt.Fail("failed"))
			return err
		}
		fmt.Println(clifmt.Success("approved"))
		return nil
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <id> <reason>",
	Short: "Deny a pending request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		g, cleanup, err := openGate(log)
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := g.Deny(cmd.Context(), args[0], denyActor, args[1]); err != nil {
			fmt.Println(clifmt.Fail("failed"))
			return err
		}
		fmt.Println(clifmt.Success("denied"))
		return nil
	},
}

func promptLockCode() (string, error) {
	fmt.Fprint(os.Stderr, "lock code: ")
	code, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(code), nil
}

func parseMeta(pairs []string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			meta[k] = n
		} else {
			meta[k] = v
		}
	}
	return meta
}

func init() {
	requestCmd.Flags().Float64Var(&requestAmount, "amount", 0, "amount for payout-style actions")
	requestCmd.Flags().StringVar(&requestCurrency, "currency", "", "currency code")
	requestCmd.Flags().StringArrayVar(&requestMeta, "meta", nil, "metadata key=value (repeatable)")
	approveCmd.Flags().StringVar(&approveActor, "approver", defaultActor(), "who is approving")
	denyCmd.Flags().StringVar(&denyActor, "actor", defaultActor(), "who is denying")

	rootCmd.AddCommand(listCmd, requestCmd, approveCmd, denyCmd)
}

func defaultActor() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "operator"
}
