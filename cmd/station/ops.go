// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/HITEYY/obsidian-station/core/station"
	"github.com/HITEYY/obsidian-station/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var errBadAddress = errors.New("not a hex address")

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a machine smart account for the machine owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStation(cmd, func(ctx context.Context, st *station.Station) error {
			addr, outcome, err := st.DeploySmartAccount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "machine account %s (tx %s)\n", addr.Hex(), outcome.TxHash.Hex())
			return nil
		})
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Relay a call, through a machine account when --machine is set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		machineHex, _ := cmd.Flags().GetString("machine")
		targetHex, _ := cmd.Flags().GetString("target")
		dataHex, _ := cmd.Flags().GetString("data")

		target, err := parseAddress("target", targetHex)
		if err != nil {
			return err
		}
		data, err := hexutil.Decode(dataHex)
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		return withStation(cmd, func(ctx context.Context, st *station.Station) error {
			var outcome *types.TransactionOutcome
			if machineHex == "" {
				outcome, err = st.ExecuteTransaction(ctx, target, data)
			} else {
				machine, perr := parseAddress("machine", machineHex)
				if perr != nil {
					return perr
				}
				outcome, err = st.ExecuteMachineTransaction(ctx, machine, target, data)
			}
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		})
	},
}

var addAttributeCmd = &cobra.Command{
	Use:   "add-attribute",
	Short: "Register a DID attribute through the identity precompile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := attributeParams(cmd, "did")
		if err != nil {
			return err
		}
		return withStation(cmd, func(ctx context.Context, st *station.Station) error {
			outcome, err := st.AddAttribute(ctx, params)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		})
	},
}

var storeDataCmd = &cobra.Command{
	Use:   "store-data",
	Short: "Register an item type and append the item through the storage precompile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := storeParams(cmd)
		return withStation(cmd, func(ctx context.Context, st *station.Station) error {
			outcome, err := st.StoreData(ctx, params)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		})
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Deploy a machine account, register a DID attribute for it and store an item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := attributeParams(cmd, "")
		if err != nil {
			return err
		}
		items := storeParams(cmd)
		out := cmd.OutOrStdout()

		return withStation(cmd, func(ctx context.Context, st *station.Station) error {
			addr, _, err := st.DeploySmartAccount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "machine account %s\n", addr.Hex())

			params.DIDAddress = addr.Hex()
			outcome, err := st.AddAttribute(ctx, params)
			if err != nil {
				return err
			}
			printOutcome(out, outcome)

			if outcome, err = st.StoreData(ctx, items); err != nil {
				return err
			}
			printOutcome(out, outcome)
			return nil
		})
	},
}

func init() {
	executeCmd.Flags().String("machine", "", "Machine smart account (enables the dual-signer flow)")
	executeCmd.Flags().String("target", "", "Call target address")
	executeCmd.Flags().String("data", "0x", "Hex encoded calldata")
	executeCmd.MarkFlagRequired("target")

	for _, c := range []*cobra.Command{addAttributeCmd, demoCmd} {
		c.Flags().String("email", "", "Email the DID attribute is issued for")
		c.Flags().String("tag", "", "Service tag")
		c.Flags().String("did-hash", "", "DID document hash stored as the attribute value")
	}
	addAttributeCmd.Flags().String("did", "", "DID address")
	addAttributeCmd.MarkFlagRequired("did")

	storeDataCmd.Flags().String("email", "", "Email the item is registered for")
	storeDataCmd.Flags().String("tag", "", "Service tag")
	for _, c := range []*cobra.Command{storeDataCmd, demoCmd} {
		c.Flags().StringSlice("tags", nil, "Item tags")
		c.Flags().String("custom-tag", "", "Item type prefix (defaults to --tag)")
		c.Flags().String("item", station.DefaultItem, "Item record")
	}

	rootCmd.AddCommand(deployCmd, executeCmd, addAttributeCmd, storeDataCmd, demoCmd)
}

func attributeParams(cmd *cobra.Command, didFlag string) (station.AddAttributeParams, error) {
	email, _ := cmd.Flags().GetString("email")
	tag, _ := cmd.Flags().GetString("tag")
	hash, _ := cmd.Flags().GetString("did-hash")
	p := station.AddAttributeParams{Email: email, Tag: tag, DocumentHash: hash}
	if didFlag != "" {
		v, _ := cmd.Flags().GetString(didFlag)
		if _, err := parseAddress(didFlag, v); err != nil {
			return p, err
		}
		p.DIDAddress = v
	}
	return p, nil
}

func storeParams(cmd *cobra.Command) station.StoreDataParams {
	email, _ := cmd.Flags().GetString("email")
	tag, _ := cmd.Flags().GetString("tag")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	customTag, _ := cmd.Flags().GetString("custom-tag")
	item, _ := cmd.Flags().GetString("item")
	if customTag == "" {
		customTag = tag
	}
	return station.StoreDataParams{Email: email, Tag: tag, Tags: tags, CustomTag: customTag, Item: item}
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s %q: %w", name, s, errBadAddress)
	}
	return common.HexToAddress(s), nil
}

func printOutcome(w io.Writer, o *types.TransactionOutcome) {
	fmt.Fprintf(w, "tx %s block %v gas %d\n", o.TxHash.Hex(), o.Receipt.BlockNumber, o.Receipt.GasUsed)
}
