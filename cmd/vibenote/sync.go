package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zksecurity/vibenote/internal/github"
	"github.com/zksecurity/vibenote/internal/store"
	vsync "github.com/zksecurity/vibenote/internal/sync"
)

var syncRetries int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the configured repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		engine, err := openEngine(st)
		if err != nil {
			return err
		}
		serveMetrics()

		coord := vsync.NewCoordinator()
		var sum vsync.Summary
		for attempt := 0; ; attempt++ {
			sum, err = coord.Sync(cmd.Context(), engine, cfg.Repo)
			if errors.Is(err, github.ErrRefMoved) && attempt < syncRetries {
				continue // branch advanced mid-pass, re-snapshot and retry
			}
			break
		}
		if err != nil {
			return err
		}

		if sum.Zero() {
			fmt.Println("up to date")
			return nil
		}
		fmt.Printf("pulled %d, pushed %d, merged %d, deleted %d remote / %d local\n",
			sum.Pulled, sum.Pushed, sum.Merged, sum.DeletedRemote, sum.DeletedLocal)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show unsynced local changes and pending tombstones",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, kvs, err := openStore()
		if err != nil {
			return err
		}
		defer kvs.Close()
		defer st.Close()

		metas, err := st.ListFiles()
		if err != nil {
			return err
		}
		dirty := 0
		for _, m := range metas {
			doc, err := st.LoadFile(m.ID)
			if err != nil {
				return err
			}
			if doc.Dirty() {
				dirty++
				fmt.Printf("modified: %s\n", m.Path)
			}
		}

		tombs, err := st.Tombstones()
		if err != nil {
			return err
		}
		for _, t := range tombs {
			switch t.Op {
			case store.TombRename:
				fmt.Printf("pending rename: %s -> %s\n", t.Path, t.To)
			default:
				fmt.Printf("pending delete: %s\n", t.Path)
			}
		}

		if dirty == 0 && len(tombs) == 0 {
			fmt.Println("clean")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncRetries, "retries", 2, "extra passes when the branch moves mid-commit")
	rootCmd.AddCommand(syncCmd, statusCmd)
}
