package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"castlight/internal/retrieval"
	"castlight/internal/store"
)

var (
	threadDepth   int
	threadReplies int
)

var threadCmd = &cobra.Command{
	Use:   "thread <cast-hash>",
	Short: "Reconstruct a cast's conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runThread,
}

func init() {
	threadCmd.Flags().IntVar(&threadDepth, "depth", 5, "max ancestor hops")
	threadCmd.Flags().IntVar(&threadReplies, "replies", 20, "max direct replies")
}

func runThread(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	retriever := retrieval.NewCastRetriever(st, nil)
	th, err := retriever.Thread(context.Background(), args[0], threadDepth, threadReplies)
	if err != nil {
		return err
	}

	for i, a := range th.Ancestors {
		printCast(a, strings.Repeat("  ", i))
	}
	printCast(th.Cast, strings.Repeat("  ", len(th.Ancestors))+"> ")
	for _, r := range th.Replies {
		printCast(r, strings.Repeat("  ", len(th.Ancestors)+1))
	}
	return nil
}

func printCast(c store.Cast, indent string) {
	removed := ""
	if c.Removed {
		removed = " [removed]"
	}
	fmt.Printf("%s%s fid %d%s: %s\n", indent, c.MessageHash, c.Fid, removed, c.Text)
}
