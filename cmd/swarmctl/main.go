// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command swarmctl is the client-side control for a swarmd-daemon process:
// it probes the daemon's RPC socket (spawning one if configured to and none
// answers), issues one request, prints the response, and exits.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/rpc"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "swarmctl talks to a running swarmd-daemon over its control socket.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/swarmd.sock", "path to the daemon's control socket")
	rootCmd.AddCommand(
		pingCmd,
		statusCmd,
		statsCmd,
		listCmd,
		addCmd,
		removeCmd,
		pauseCmd,
		resumeCmd,
		peersCmd,
		shutdownCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*rpc.Client, error) {
	m := rpc.NewManager(rpc.ManagerConfig{SocketPath: socketPath})
	return m.Connect(ctx)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "check that the daemon is alive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("pong")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print engine-wide status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(rpc.TypeGetStatus, struct{}{}, &rpc.StatusResponse{})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print engine-wide transfer statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(rpc.TypeGetStats, struct{}{}, &rpc.StatsResponse{})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list managed torrents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(rpc.TypeGetTorrents, struct{}{}, &rpc.GetTorrentsResponse{})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <source>",
	Short: "add a torrent by path or magnet URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		downloadPath, _ := cmd.Flags().GetString("dir")
		start, _ := cmd.Flags().GetBool("start")
		return callAndPrint(rpc.TypeAddTorrent, rpc.AddTorrentRequest{
			Source:           args[0],
			DownloadPath:     downloadPath,
			StartImmediately: start,
		}, &rpc.AddTorrentResponse{})
	},
}

func init() {
	addCmd.Flags().String("dir", "", "download directory (defaults to the daemon's download dir)")
	addCmd.Flags().Bool("start", true, "start downloading immediately")
}

var removeCmd = &cobra.Command{
	Use:   "remove <infoHash>",
	Short: "remove a torrent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := core.NewInfoHashFromHex(args[0])
		if err != nil {
			return err
		}
		deleteFiles, _ := cmd.Flags().GetBool("delete-files")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Call(ctx, rpc.TypeRemoveTorrent, rpc.RemoveTorrentRequest{InfoHash: h, DeleteFiles: deleteFiles}, nil)
	},
}

func init() {
	removeCmd.Flags().Bool("delete-files", false, "also delete downloaded files")
}

var pauseCmd = &cobra.Command{
	Use:   "pause <infoHash>",
	Short: "pause a torrent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := core.NewInfoHashFromHex(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Call(ctx, rpc.TypePauseTorrent, rpc.PauseTorrentRequest{InfoHash: h}, nil)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <infoHash>",
	Short: "resume a paused torrent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := core.NewInfoHashFromHex(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Call(ctx, rpc.TypeResumeTorrent, rpc.ResumeTorrentRequest{InfoHash: h}, nil)
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers <infoHash>",
	Short: "list a torrent's connected peers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := core.NewInfoHashFromHex(args[0])
		if err != nil {
			return err
		}
		return callAndPrint(rpc.TypeGetPeers, rpc.GetPeersRequest{InfoHash: h}, &rpc.GetPeersResponse{})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Call(ctx, rpc.TypeShutdown, struct{}{}, nil)
	},
}

func callAndPrint(reqType string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Call(ctx, reqType, body, out); err != nil {
		return err
	}
	return printJSON(out)
}
