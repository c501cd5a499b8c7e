// Copyright 2025 Tom Barlow
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

// Package cli implements the fetchload command.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tombee/fetchcore/internal/log"
	"github.com/tombee/fetchcore/pkg/corehttp"
)

type loadOptions struct {
	configPath string
	urlFile    string
	repeat     int
	rangeBytes uint64
	retries    uint32
	submitRate float64
	trace      int64
	verbose    bool
}

// NewRootCommand builds the fetchload command tree.
func NewRootCommand() *cobra.Command {
	opts := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "fetchload --urls FILE",
		Short: "Drive the fetch core against a URL list and report throughput",
		Long: `fetchload submits every URL in the given file (one per line) to the
fetch core and pumps completions until all have finished, printing a
throughput summary. Lines starting with '#' are skipped.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML policy config file")
	flags.StringVarP(&opts.urlFile, "urls", "u", "", "file of URLs to fetch, one per line (required)")
	flags.IntVarP(&opts.repeat, "repeat", "n", 1, "number of passes over the URL list")
	flags.Uint64VarP(&opts.rangeBytes, "range", "R", 0, "fetch only the first N bytes of each URL")
	flags.Uint32Var(&opts.retries, "retries", corehttp.DefaultRetryCount, "retry limit per request")
	flags.Float64Var(&opts.submitRate, "rate", 0, "submission pacing in requests/second (0 = unpaced)")
	flags.Int64Var(&opts.trace, "trace", corehttp.TraceOff, "trace level 0..3")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("urls")

	return cmd
}

func runLoad(ctx context.Context, opts *loadOptions) error {
	logCfg := log.FromEnv()
	logCfg.Format = log.FormatText
	if opts.verbose {
		logCfg.Level = "debug"
	}
	log.Setup(logCfg)

	urls, err := readURLs(opts.urlFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs in %s", opts.urlFile)
	}

	cfg := DefaultConfig()
	if opts.configPath != "" {
		if cfg, err = LoadConfig(opts.configPath); err != nil {
			return err
		}
	}

	corehttp.CreateService()
	class := corehttp.CreatePolicyClass()
	if class == corehttp.InvalidPolicyID {
		return fmt.Errorf("unable to create policy class")
	}
	applyPolicy(cfg, class, opts.trace)
	if st := corehttp.StartThread(); !st.IsSuccess() {
		return st
	}

	total := len(urls) * opts.repeat
	reqOpts := &corehttp.Options{
		Retries:         opts.retries,
		UseRetryAfter:   true,
		FollowRedirects: true,
		Trace:           int(opts.trace),
	}

	client := corehttp.NewClient()
	started := time.Now()
	var (
		completed  int
		failures   int
		bytesMoved int64
	)
	handler := corehttp.HandlerFunc(func(h corehttp.Handle, resp *corehttp.Response) {
		completed++
		if !resp.Status().IsSuccess() {
			failures++
			fmt.Fprintf(os.Stderr, "fetch failed: %s\n", resp.Status().Error())
		}
		bytesMoved += int64(resp.BodySize())
	})

	var limiter *rate.Limiter
	if opts.submitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.submitRate), 1)
	}

	submitted := 0
	for pass := 0; pass < opts.repeat; pass++ {
		for _, url := range urls {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			var h corehttp.Handle
			if opts.rangeBytes > 0 {
				h = client.GetByteRange(class, 0, url, 0, opts.rangeBytes, reqOpts, nil, handler)
			} else {
				h = client.Get(class, 0, url, reqOpts, nil, handler)
			}
			if h == corehttp.InvalidHandle {
				return fmt.Errorf("submit %s: %s", url, client.Status().Error())
			}
			submitted++
			client.Update(0)
		}
	}

	for completed < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		client.Update(0)
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(started)

	stopDone := false
	client.StopThread(corehttp.HandlerFunc(func(corehttp.Handle, *corehttp.Response) {
		stopDone = true
	}))
	for !stopDone && !corehttp.IsStopped() {
		client.Update(0)
		time.Sleep(5 * time.Millisecond)
	}
	for !corehttp.IsStopped() {
		time.Sleep(5 * time.Millisecond)
	}
	corehttp.DestroyService()

	fmt.Printf("requests:  %d (%d failed)\n", submitted, failures)
	fmt.Printf("received:  %s\n", humanize.Bytes(uint64(bytesMoved)))
	fmt.Printf("elapsed:   %s\n", elapsed.Round(time.Millisecond))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("rate:      %.1f req/s, %s/s\n",
			float64(submitted)/secs, humanize.Bytes(uint64(float64(bytesMoved)/secs)))
	}
	return nil
}

func applyPolicy(cfg *Config, class uint32, trace int64) {
	if cfg.Policy.ConnectionLimit > 0 {
		corehttp.SetStaticPolicyOption(corehttp.ConnectionLimit, class, cfg.Policy.ConnectionLimit)
	}
	if cfg.Policy.PerHostConnectionLimit > 0 {
		corehttp.SetStaticPolicyOption(corehttp.PerHostConnectionLimit, class, cfg.Policy.PerHostConnectionLimit)
	}
	if cfg.Policy.PipeliningDepth > 0 {
		corehttp.SetStaticPolicyOption(corehttp.PipeliningDepth, class, cfg.Policy.PipeliningDepth)
	}
	if cfg.Policy.ThrottleRate > 0 {
		corehttp.SetStaticPolicyOption(corehttp.ThrottleRate, class, cfg.Policy.ThrottleRate)
	}
	if cfg.CAFile != "" {
		corehttp.SetStaticPolicyOptionString(corehttp.CAFile, corehttp.GlobalPolicyID, cfg.CAFile)
	}
	if cfg.CAPath != "" {
		corehttp.SetStaticPolicyOptionString(corehttp.CAPath, corehttp.GlobalPolicyID, cfg.CAPath)
	}
	if cfg.Proxy != "" {
		corehttp.SetStaticPolicyOptionString(corehttp.HTTPProxy, corehttp.GlobalPolicyID, cfg.Proxy)
	}
	if trace > corehttp.TraceOff {
		corehttp.SetStaticPolicyOption(corehttp.Trace, corehttp.GlobalPolicyID, trace)
	}
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening URL list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
