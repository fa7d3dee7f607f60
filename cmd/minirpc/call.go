package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"oneshot-rpc/client"
	"oneshot-rpc/message"
)

func newCallCmd() *cobra.Command {
	var (
		iface    string
		method   string
		count    int
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Send requests, one connection each, and print the last response",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1")
			}
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			c, err := client.New(client.Options{
				Host:            cfg.Host,
				Port:            cfg.Port,
				ConnectTimeout:  cfg.ConnectTimeout,
				ResponseTimeout: cfg.ResponseTimeout,
				Codec:           cfg.CodecType(),
				MaxFrameBytes:   cfg.MaxFrameBytes,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			req := &message.Request{InterfaceName: iface, MethodName: method}
			responses := make([]*message.Response, count)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for i := 0; i < count; i++ {
				g.Go(func() error {
					resp, err := c.Call(ctx, req)
					if err != nil {
						return fmt.Errorf("call %d: %w", i+1, err)
					}
					responses[i] = resp
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), responses[count-1])
			return nil
		},
	}
	cmd.Flags().StringVar(&iface, "interface", "interface", "interface name of the request")
	cmd.Flags().StringVar(&method, "method", "hello", "method name of the request")
	cmd.Flags().IntVar(&count, "count", 4, "number of requests to send")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "requests in flight at once")
	return cmd
}
