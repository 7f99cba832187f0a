package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jrjohn/ordr-go/pkg/ordr"
)

func newSkinsCmd(g *globalFlags) *cobra.Command {
	var q ordr.SkinsQuery
	cmd := &cobra.Command{
		Use:   "skins",
		Short: "List available skins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runWithClient(cmd, false, func(ctx context.Context, client *ordr.Client) error {
				skins, err := client.GetSkins(ctx, q)
				if err != nil {
					return err
				}
				return g.printer(cmd).print(skins)
			})
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 5, "skins per page")
	cmd.Flags().StringVar(&q.Search, "search", "", "filter by skin name")
	return cmd
}

func newSkinCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "skin <id>",
		Short: "Look up a custom skin by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid skin id %q", args[0])
			}
			return g.runWithClient(cmd, false, func(ctx context.Context, client *ordr.Client) error {
				skin, err := client.GetSkin(ctx, id)
				if err != nil {
					return err
				}
				return g.printer(cmd).print(skin)
			})
		},
	}
}

func newRendersCmd(g *globalFlags) *cobra.Command {
	var q ordr.RenderListQuery
	cmd := &cobra.Command{
		Use:   "renders",
		Short: "List renders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runWithClient(cmd, false, func(ctx context.Context, client *ordr.Client) error {
				renders, err := client.GetRenderList(ctx, q)
				if err != nil {
					return err
				}
				return g.printer(cmd).print(renders)
			})
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&q.Page, "page", 1, "page number")
	flags.IntVar(&q.PageSize, "page-size", 5, "renders per page")
	flags.StringVar(&q.OrdrUsername, "ordr-username", "", "filter by o!rdr account")
	flags.StringVar(&q.ReplayUsername, "replay-username", "", "filter by replay player")
	flags.IntVar(&q.RenderID, "render-id", 0, "filter by render id")
	flags.BoolVar(&q.NoBots, "no-bots", false, "hide renders queued by bots")
	flags.StringVar(&q.Link, "link", "", "filter by video link")
	flags.IntVar(&q.BeatmapsetID, "beatmapset-id", 0, "filter by beatmapset")
	return cmd
}

func newServersCmd(g *globalFlags) *cobra.Command {
	var onlineOnly bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List render servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runWithClient(cmd, false, func(ctx context.Context, client *ordr.Client) error {
				servers, err := client.GetServerList(ctx)
				if err != nil {
					return err
				}
				if onlineOnly {
					filtered := servers[:0]
					for _, s := range servers {
						if s.Online() {
							filtered = append(filtered, s)
						}
					}
					servers = filtered
				}
				return g.printer(cmd).print(servers)
			})
		},
	}
	cmd.Flags().BoolVar(&onlineOnly, "online", false, "only list servers accepting work")
	return cmd
}

func newOnlineCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "Show how many render servers are online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runWithClient(cmd, false, func(ctx context.Context, client *ordr.Client) error {
				count, err := client.GetServerOnlineCount(ctx)
				if err != nil {
					return err
				}
				return g.printer(cmd).print(map[string]int{"online": count})
			})
		},
	}
}
