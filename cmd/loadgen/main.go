// Command loadgen writes a batch file of random merchants and optionally
// fires concurrent uploads of it at a running importer.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"merchant-sync/internal/model"
	"merchant-sync/internal/normalizer"
)

const header = "id;reference;email;live_on;disbursement_frequency;minimum_monthly_fee"

func main() {
	var (
		rows     int
		out      string
		target   string
		requests int
	)

	rootCmd := &cobra.Command{
		Use:           "loadgen",
		Short:         "Generate a merchant batch and optionally upload it concurrently",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			if err := writeBatch(&buf, rows, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
				return err
			}

			if out != "" {
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %d merchants to %s\n", rows, out)
			}
			if target == "" {
				return nil
			}
			return upload(cmd.Context(), target, buf.Bytes(), requests)
		},
	}
	rootCmd.Flags().IntVar(&rows, "rows", 1000, "number of merchants in the batch")
	rootCmd.Flags().StringVarP(&out, "out", "o", "", "write the batch to this file")
	rootCmd.Flags().StringVar(&target, "target", "", "importer base URL, e.g. http://localhost:8080")
	rootCmd.Flags().IntVar(&requests, "requests", 50, "concurrent uploads of the batch")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func writeBatch(w io.Writer, rows int, rnd *rand.Rand) error {
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		freq := model.Daily
		if rnd.Intn(2) == 1 {
			freq = model.Weekly
		}
		fee := decimal.New(rnd.Int63n(10000), -2)
		ref := fmt.Sprintf("merchant_%06d", i)
		_, err := fmt.Fprintf(w, "%s%c%s%c%s@example.com%c%s%c%s%c%s\n",
			uuid.NewString(), normalizer.Delimiter,
			ref, normalizer.Delimiter,
			ref, normalizer.Delimiter,
			start.AddDate(0, 0, rnd.Intn(1000)).Format(model.DateLayout), normalizer.Delimiter,
			freq, normalizer.Delimiter,
			fee.StringFixed(2))
		if err != nil {
			return err
		}
	}
	return nil
}

func upload(ctx context.Context, target string, batch []byte, requests int) error {
	start := time.Now()
	var wg sync.WaitGroup

	fmt.Printf("Starting load test with %d requests...\n", requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+"/imports/upload", bytes.NewReader(batch))
			if err != nil {
				fmt.Printf("Request %d failed: %v\n", id, err)
				return
			}
			req.Header.Set("Content-Type", "text/csv")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				fmt.Printf("Request %d failed: %v\n", id, err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Printf("Request %d returned %s\n", id, resp.Status)
			}
		}(i)
	}

	wg.Wait()
	fmt.Printf("Finished %d requests in %v\n", requests, time.Since(start))
	return nil
}
