package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/spiderdive/internal/state"
)

func openCache() (*state.SiteMapCache, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return state.NewSiteMapCache(config.Cache.Path, config.Cache.TTL)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	infos, err := cache.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No cached site maps in %s\n", cache.Path())
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTART URL\tPAGES\tSTORED\tSTATUS")
	for _, info := range infos {
		status := "fresh"
		if info.Expired {
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			info.Key[:12], info.StartURL, info.Pages, info.StoredAt.Local().Format(time.DateTime), status)
	}
	return tw.Flush()
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	removed, err := cache.Prune(clearAll)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d site maps from %s\n", removed, cache.Path())
	return nil
}
