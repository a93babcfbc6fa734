package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/flashsync/internal/client"
	"github.com/hyperengineering/flashsync/internal/entity"
	"github.com/hyperengineering/flashsync/internal/types"
)

var (
	cardsetTitle       string
	cardsetDescription string
	cardsetLanguage    string
	cardsetCards       []string
	cardsetPublic      bool
)

var cardsetCmd = &cobra.Command{
	Use:   "cardset",
	Short: "Manage card sets in the local cache",
	Long: "List, create, update and delete card sets. Changes are applied to the " +
		"local cache immediately and queued when the server is unreachable.",
}

var cardsetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List card sets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return printCardSets(cmd, c.CardSets().List())
		})
	},
}

var cardsetShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one card set with its cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			cs, err := c.CardSets().FetchOne(ctx, args[0])
			if err != nil {
				return err
			}
			return printCardSet(cmd, cs)
		})
	},
}

var cardsetCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a card set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cards, err := parseCards(cardsetCards)
		if err != nil {
			return err
		}
		in := types.CardSetInput{
			Title:       cardsetTitle,
			Description: cardsetDescription,
			Language:    cardsetLanguage,
			Cards:       cards,
			IsPublic:    cardsetPublic,
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.CardSets().Create(ctx, in)
			if err != nil {
				return err
			}
			return printMutation(cmd, "created", m)
		})
	},
}

var cardsetUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a card set",
	Long:  "Only the flags that are given are changed. --card replaces the whole card list.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := cardSetPatchFromFlags(cmd)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.CardSets().Update(ctx, args[0], patch)
			if err != nil {
				return err
			}
			return printMutation(cmd, "updated", m)
		})
	},
}

var cardsetDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a card set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.CardSets().Delete(ctx, args[0])
			if err != nil {
				return err
			}
			m.Record.ID = args[0]
			return printMutation(cmd, "deleted", m)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{cardsetCreateCmd, cardsetUpdateCmd} {
		c.Flags().StringVar(&cardsetTitle, "title", "", "Card set title")
		c.Flags().StringVar(&cardsetDescription, "description", "", "Card set description")
		c.Flags().StringVar(&cardsetLanguage, "language", "", "Language code of the terms")
		c.Flags().StringArrayVar(&cardsetCards, "card", nil, `Card as "term=definition" (repeatable)`)
		c.Flags().BoolVar(&cardsetPublic, "public", false, "Share the card set publicly")
	}

	cardsetCmd.AddCommand(cardsetListCmd)
	cardsetCmd.AddCommand(cardsetShowCmd)
	cardsetCmd.AddCommand(cardsetCreateCmd)
	cardsetCmd.AddCommand(cardsetUpdateCmd)
	cardsetCmd.AddCommand(cardsetDeleteCmd)
}

// parseCards turns "term=definition" flags into cards.
func parseCards(specs []string) ([]types.Card, error) {
	cards := make([]types.Card, 0, len(specs))
	for _, spec := range specs {
		term, define, ok := strings.Cut(spec, "=")
		term, define = strings.TrimSpace(term), strings.TrimSpace(define)
		if !ok || term == "" || define == "" {
			return nil, fmt.Errorf("invalid card %q: want term=definition", spec)
		}
		cards = append(cards, types.Card{Terminology: term, Define: define})
	}
	return cards, nil
}

func cardSetPatchFromFlags(cmd *cobra.Command) (types.CardSetPatch, error) {
	var patch types.CardSetPatch
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = &cardsetTitle
	}
	if flags.Changed("description") {
		patch.Description = &cardsetDescription
	}
	if flags.Changed("language") {
		patch.Language = &cardsetLanguage
	}
	if flags.Changed("public") {
		patch.IsPublic = &cardsetPublic
	}
	if flags.Changed("card") {
		cards, err := parseCards(cardsetCards)
		if err != nil {
			return patch, err
		}
		patch.Cards = cards
	}
	return patch, nil
}

func printCardSets(cmd *cobra.Command, sets []types.CardSet) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"cardsets": sets,
			"total":    len(sets),
		})
	}
	if len(sets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No card sets found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tTITLE\tCARDS\tLANGUAGE\tUPDATED")
	for _, cs := range sets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			cs.ID, cs.Title, len(cs.Cards), dash(cs.Language), humanize.Time(cs.UpdatedAt))
	}
	return w.Flush()
}

func printCardSet(cmd *cobra.Command, cs types.CardSet) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), cs)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", cs.Title, cs.ID)
	if cs.Description != "" {
		fmt.Fprintln(out, cs.Description)
	}
	fmt.Fprintf(out, "Updated %s\n\n", humanize.Time(cs.UpdatedAt))

	w := newTabWriter(out)
	fmt.Fprintln(w, "TERM\tDEFINITION\tEXAMPLE")
	for _, card := range cs.Cards {
		fmt.Fprintf(w, "%s\t%s\t%s\n", card.Terminology, card.Define, dash(card.Example))
	}
	return w.Flush()
}

func printMutation[T types.Entity](cmd *cobra.Command, verb string, m entity.Mutation[T]) error {
	if jsonOutput {
		out := map[string]any{
			"id":    m.Record.EntityID(),
			"state": m.State.String(),
		}
		if m.Operation != nil {
			out["operation_id"] = m.Operation.ID
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
	switch m.State {
	case entity.StateQueued:
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s locally; queued for sync (operation %s)\n",
			strings.ToUpper(verb[:1])+verb[1:], m.Record.EntityID(), m.Operation.ID)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", strings.ToUpper(verb[:1])+verb[1:], m.Record.EntityID())
	}
	return nil
}
