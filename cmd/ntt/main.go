package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	core "ntt-bridge/core"
)

// runtime is the embedded, in-process collaborator set the CLI drives
// directly when --server is unset. It mirrors the reference project's
// mock-testnet pattern in cmd/synnergy/main.go, generalized from a
// sleep-and-print stub into an actual in-memory Manager.
type runtime struct {
	manager *core.Manager
	ctx     *core.Context
}

func newRuntime(localChainID uint16) *runtime {
	store := core.NewInMemoryStore()
	return &runtime{
		manager: core.NewManager(localChainID),
		ctx: &core.Context{
			Clock:  core.SystemClock{},
			Store:  store,
			Events: core.NewMemoryEventSink(),
			Roles:  core.NewMemoryRoleStore(),
		},
	}
}

func main() {
	var serverURL string
	var callerHex string

	root := &cobra.Command{Use: "ntt"}
	root.PersistentFlags().StringVar(&serverURL, "server", "", "base URL of a running nttd instance; embedded mode if unset")
	root.PersistentFlags().StringVar(&callerHex, "caller", "", "0x-prefixed caller address for this invocation")

	root.AddCommand(peersCmd(&serverURL, &callerHex))
	root.AddCommand(transceiversCmd())
	root.AddCommand(transferCmd(&serverURL, &callerHex))
	root.AddCommand(messagesCmd())
	root.AddCommand(bucketsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func peersCmd(serverURL, callerHex *string) *cobra.Command {
	cmd := &cobra.Command{Use: "peers"}

	list := &cobra.Command{
		Use:   "list",
		Short: "list registered peers",
		Run: func(cmd *cobra.Command, args []string) {
			if *serverURL != "" {
				httpGet(*serverURL + "/api/peers")
				return
			}
			rt := newRuntime(0)
			peers, err := rt.manager.Peers.ListPeers(rt.ctx)
			must(err)
			printJSON(peers)
		},
	}

	set := &cobra.Command{
		Use:   "set [chain] [contract] [decimals]",
		Short: "set or override a peer registration",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			var chain uint16
			fmt.Sscanf(args[0], "%d", &chain)
			contract, err := core.ParseAddress(args[1])
			must(err)
			var decimals uint8
			fmt.Sscanf(args[2], "%d", &decimals)

			if *serverURL != "" {
				body, _ := json.Marshal(map[string]any{
					"chain_id": chain, "peer_contract": args[1], "peer_decimals": decimals,
				})
				httpPost(*serverURL+"/api/peers", body, *callerHex)
				return
			}
			rt := newRuntime(0)
			peer, isNew, err := rt.manager.Peers.SetPeer(rt.ctx, chain, contract, decimals)
			must(err)
			printJSON(struct {
				Peer  core.Peer `json:"peer"`
				IsNew bool      `json:"is_new"`
			}{peer, isNew})
		},
	}

	cmd.AddCommand(list, set)
	return cmd
}

func transceiversCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "transceivers"}

	add := &cobra.Command{
		Use:   "add [handler] [transceiver]",
		Short: "add a transceiver to a handler's ordered list",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			handler, err := core.ParseAddress(args[0])
			must(err)
			transceiver, err := core.ParseAddress(args[1])
			must(err)
			rt := newRuntime(0)
			must(rt.manager.Agg.AddTransceiver(rt.ctx, handler, transceiver))
			fmt.Println("added")
		},
	}

	remove := &cobra.Command{
		Use:   "remove [handler] [transceiver]",
		Short: "remove a transceiver, preserving order of survivors",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			handler, err := core.ParseAddress(args[0])
			must(err)
			transceiver, err := core.ParseAddress(args[1])
			must(err)
			rt := newRuntime(0)
			must(rt.manager.Agg.RemoveTransceiver(rt.ctx, handler, transceiver))
			fmt.Println("removed")
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func transferCmd(serverURL, callerHex *string) *cobra.Command {
	cmd := &cobra.Command{Use: "transfer"}

	send := &cobra.Command{
		Use:   "send [destination_chain] [recipient] [amount]",
		Short: "submit an outbound transfer group",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			var chain uint16
			fmt.Sscanf(args[0], "%d", &chain)
			recipient, err := core.ParseAddress(args[1])
			must(err)
			var amount uint64
			fmt.Sscanf(args[2], "%d", &amount)

			if *serverURL != "" {
				body, _ := json.Marshal(map[string]any{
					"destination_chain": chain, "recipient": args[1], "untrimmed_amount": amount,
				})
				httpPost(*serverURL+"/api/transfers/outbound", body, *callerHex)
				return
			}
			fmt.Println("embedded send requires a configured Manager; use --server against a running nttd")
		},
	}

	complete := &cobra.Command{
		Use:   "complete [message_id]",
		Short: "complete a deferred outbound transfer",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if *serverURL != "" {
				httpPost(*serverURL+"/api/transfers/outbound/"+args[0]+"/complete", []byte("{}"), *callerHex)
				return
			}
			fmt.Println("embedded completion requires a configured Manager; use --server against a running nttd")
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel [message_id]",
		Short: "cancel a deferred outbound transfer (initiator only)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if *serverURL != "" {
				httpPost(*serverURL+"/api/transfers/outbound/"+args[0]+"/cancel", []byte("{}"), *callerHex)
				return
			}
			fmt.Println("embedded cancellation requires a configured Manager; use --server against a running nttd")
		},
	}

	cmd.AddCommand(send, complete, cancel)
	return cmd
}

func messagesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "messages"}

	status := &cobra.Command{
		Use:   "status [digest]",
		Short: "show attestation count and approval/execution state",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			digest, err := core.ParseAddress(args[0])
			must(err)
			rt := newRuntime(0)
			count, err := rt.manager.Agg.MessageAttestations(rt.ctx, [32]byte(digest))
			must(err)
			approved, _ := rt.manager.Agg.IsMessageApproved(rt.ctx, [32]byte(digest))
			executed, _ := rt.manager.Agg.IsExecuted(rt.ctx, [32]byte(digest))
			printJSON(struct {
				Attestations uint64 `json:"attestations"`
				Approved     bool   `json:"approved"`
				Executed     bool   `json:"executed"`
			}{count, approved, executed})
		},
	}

	cmd.AddCommand(status)
	return cmd
}

func bucketsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "buckets"}

	show := &cobra.Command{
		Use:   "show [bucket_id]",
		Short: "show a bucket's capacity projection at the current time",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := core.ParseAddress(args[0])
			must(err)
			rt := newRuntime(0)
			cap, err := rt.manager.RL.CapacityAt(rt.ctx, core.BucketID(id), time.Now().UTC())
			must(err)
			fmt.Println(cap.String())
		},
	}

	cmd.AddCommand(show)
	return cmd
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func httpGet(url string) {
	resp, err := http.Get(url)
	must(err)
	defer resp.Body.Close()
	var out any
	must(json.NewDecoder(resp.Body).Decode(&out))
	printJSON(out)
}

func httpPost(url string, body []byte, callerHex string) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	must(err)
	req.Header.Set("Content-Type", "application/json")
	if callerHex != "" {
		req.Header.Set("X-Ntt-Caller", callerHex)
	}
	resp, err := http.DefaultClient.Do(req)
	must(err)
	defer resp.Body.Close()
	var out any
	must(json.NewDecoder(resp.Body).Decode(&out))
	printJSON(out)
}
