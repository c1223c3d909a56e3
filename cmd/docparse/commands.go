package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/endy1328/document-parser-system/internal/api"
	"github.com/endy1328/document-parser-system/internal/config"
	"github.com/endy1328/document-parser-system/internal/ingest"
	"github.com/endy1328/document-parser-system/internal/storage"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Upload documents for conversion",
	Long: `Upload one or more documents for conversion.

Examples:
  docparse submit report.pdf
  docparse submit --wait notes.md budget.xlsx`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var failed int
		for _, path := range args {
			job, err := submitFile(ctx, client, path)
			if err != nil {
				printError("%s: %v", path, err)
				failed++
				continue
			}
			printSuccess("Queued %s as %s job %s", job.Filename, job.FileType, job.JobID)
			fmt.Fprintln(cmd.OutOrStdout(), job.JobID)

			if !wait {
				continue
			}
			view, err := waitForJob(ctx, client, job.JobID, interval)
			if err != nil {
				printError("%s: %v", job.JobID, err)
				failed++
				continue
			}
			if view.Status == storage.StatusFailed {
				printError("%s failed: %s", shortID(view.ID), view.Message)
				failed++
				continue
			}
			printSuccess("%s completed", shortID(view.ID))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents did not complete", failed, len(args))
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().Bool("wait", false, "wait for each job to reach a terminal state")
	submitCmd.Flags().Duration("interval", time.Second, "status polling interval with --wait")
}

func submitFile(ctx context.Context, client *apiClient, path string) (api.UploadResponse, error) {
	var out api.UploadResponse
	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("reading file: %w", err)
	}
	resp, err := client.upload(ctx, filepath.Base(path), data)
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

func fetchStatus(ctx context.Context, client *apiClient, id string) (ingest.StatusView, error) {
	var view ingest.StatusView
	resp, err := client.get(ctx, "/jobs/"+id)
	if err != nil {
		return view, err
	}
	err = decodeJSON(resp, &view)
	return view, err
}

// waitForJob polls the job until it is completed or failed.
func waitForJob(ctx context.Context, client *apiClient, id string, interval time.Duration) (ingest.StatusView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	lastProgress := -1
	for {
		view, err := fetchStatus(ctx, client, id)
		if err != nil {
			return view, err
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		if view.Progress != lastProgress {
			printStep("%s %s %d%% %s", shortID(id), view.Status, view.Progress, view.Message)
			lastProgress = view.Progress
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := fetchStatus(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		printStatus("Job", "%s", view.ID)
		printStatus("File", "%s (%s)", view.Filename, view.FileType.Label())
		printStatus("Status", "%s", colorize(statusColor(view.Status), string(view.Status)))
		printStatus("Progress", "%d%%", view.Progress)
		printStatus("Message", "%s", view.Message)
		printStatus("Updated", "%s", view.UpdatedAt.Local().Format(time.DateTime))
		return nil
	},
}

// --- result ---

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print the converted result of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asHTML, _ := cmd.Flags().GetBool("html")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/jobs/" + args[0] + "/result"
		if asHTML {
			path = "/jobs/" + args[0] + "/html"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusAccepted:
			var pending api.PendingResponse
			if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			printWarning("Job %s is %s (%d%%): %s", shortID(args[0]), pending.Status, pending.Progress, pending.Message)
			return nil
		case resp.StatusCode >= 400:
			return responseError(resp)
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if asHTML {
			if _, err := io.Copy(w, resp.Body); err != nil {
				return err
			}
		} else {
			var res api.ResultResponse
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				return fmt.Errorf("decoding result: %w", err)
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Result); err != nil {
				return err
			}
		}
		if output != "" {
			printSuccess("Result written to %s", output)
		}
		return nil
	},
}

func init() {
	resultCmd.Flags().Bool("html", false, "print the rendered HTML instead of JSON")
	resultCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download the original uploaded file of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+args[0]+"/download")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return responseError(resp)
		}

		if output == "" {
			output = attachmentName(resp.Header.Get("Content-Disposition"))
			if output == "" {
				output = args[0]
			}
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		n, err := io.Copy(f, resp.Body)
		if err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Saved %s (%d bytes)", output, n)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringP("output", "o", "", "destination path (default: original file name)")
}

// attachmentName extracts a safe base file name from a Content-Disposition header.
func attachmentName(header string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/jobs?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var views []ingest.StatusView
		if err := decodeJSON(resp, &views); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(views) == 0 {
			fmt.Fprintln(out, "No jobs found.")
			return nil
		}
		for _, v := range views {
			fmt.Fprintf(out, "%s  %-10s %3d%%  %s  %s\n",
				colorize(colorCyan, shortID(v.ID)),
				colorize(statusColor(v.Status), string(v.Status)),
				v.Progress,
				v.CreatedAt.Local().Format(time.DateTime),
				v.Filename,
			)
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	jobsCmd.Flags().Int("offset", 0, "number of jobs to skip")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys are listed by 'docparse config show'.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
