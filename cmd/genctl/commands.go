package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"gengate/internal/domain"
	"gengate/internal/storage"
	"gengate/pkg/zip"
)

func newStatusCmd(c *cli) *cobra.Command {
	var engineURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show execution engine queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if engineURL != "" {
				query.Set("engine_url", engineURL)
			}
			var status engineStatusResponse
			if err := c.gateway.do(cmd.Context(), http.MethodGet, "/v1/engine/status", query, nil, &status); err != nil {
				return err
			}
			fmt.Printf("engine online: running=%d pending=%d\n", status.Running, status.Pending)
			return nil
		},
	}
	cmd.Flags().StringVar(&engineURL, "engine", "", "engine base URL override")
	return cmd
}

func newWorkflowsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List available workflow templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res workflowsResponse
			if err := c.gateway.do(cmd.Context(), http.MethodGet, "/v1/workflows", nil, nil, &res); err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Name", "Description", "Max subjects", "Required params"})
			for _, wf := range res.Workflows {
				var required []string
				for _, ph := range wf.Placeholders {
					if ph.Required {
						required = append(required, ph.Token)
					}
				}
				t.AppendRow(table.Row{wf.Name, wf.Description, wf.MaxSubjects, strings.Join(required, ", ")})
			}
			t.Render()
			return nil
		},
	}
}

func newSubmitCmd(c *cli) *cobra.Command {
	var (
		workflowName string
		sourcePath   string
		width        int
		height       int
		params       []string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an image generation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowName == "" {
				var saved string
				if found, _ := c.prefs.Get(cmd.Context(), "last_workflow", &saved); found {
					workflowName = saved
				}
			}
			if workflowName == "" {
				return fmt.Errorf("--workflow is required")
			}

			templateParams := parseParams(params)
			if err := applyDimensionParams(cmd.Context(), c.gateway, workflowName, width, height, templateParams); err != nil {
				return err
			}

			payload := map[string]any{
				"workflow": workflowName,
				"width":    width,
				"height":   height,
				"params":   templateParams,
			}
			if sourcePath != "" {
				dataURL, err := fileToDataURL(sourcePath)
				if err != nil {
					return err
				}
				payload["source_image"] = map[string]any{
					"data_url": dataURL,
					"name":     filepath.Base(sourcePath),
				}
			}

			var sub submissionResponse
			if err := c.gateway.do(cmd.Context(), http.MethodPost, "/v1/jobs/image", nil, payload, &sub); err != nil {
				return err
			}
			_ = c.prefs.Set(cmd.Context(), "last_workflow", workflowName)
			fmt.Printf("accepted: record=%s execution=%s\n", sub.RecordID, sub.ExecutionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "", "workflow template name")
	cmd.Flags().StringVar(&sourcePath, "source", "", "source image file for restyle workflows")
	cmd.Flags().IntVar(&width, "width", 0, "output width")
	cmd.Flags().IntVar(&height, "height", 0, "output height")
	cmd.Flags().StringArrayVar(&params, "param", nil, "template parameter KEY=VALUE (repeatable)")
	return cmd
}

func newWatchCmd(c *cli) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <kind> <execution-id>",
		Short: "Watch a job until it reaches a terminal state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, executionID := args[0], args[1]
			status, err := watchJob(cmd.Context(), c.gateway, kind, executionID, interval)
			if err != nil {
				return err
			}
			if status.Status == string(domain.JobStatusFailed) {
				return fmt.Errorf("job failed: %s", status.ErrorMessage)
			}
			fmt.Printf("completed in %s: %s\n", time.Duration(status.DurationMS)*time.Millisecond, status.ResultURL)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "poll interval")
	return cmd
}

func newFeedCmd(c *cli) *cobra.Command {
	var (
		limit     int
		offset    int
		workflows []string
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the merged result feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := fetchFeed(cmd.Context(), c.gateway, limit, offset, workflows)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Created", "Kind", "Workflow", "Execution", "URL"})
			for _, it := range res.Items {
				t.AppendRow(table.Row{
					it.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					it.Kind,
					it.WorkflowName,
					it.ExecutionID,
					it.URL,
				})
			}
			t.Render()
			if res.Partial {
				fmt.Fprintln(os.Stderr, "warning: one source was unavailable; the page may be incomplete")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().StringSliceVar(&workflows, "workflows", nil, "workflow name allow-list")
	return cmd
}

func newDownloadCmd(c *cli) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "download <kind> <execution-id>",
		Short: "Download a completed job's results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, executionID := args[0], args[1]
			var status jobStatusResponse
			if err := c.gateway.do(cmd.Context(), http.MethodGet, "/v1/jobs/"+kind+"/"+url.PathEscape(executionID), nil, nil, &status); err != nil {
				return err
			}
			if status.Status != string(domain.JobStatusCompleted) {
				return fmt.Errorf("job is %s, nothing to download", status.Status)
			}
			if outDir == "" {
				outDir = c.cfg.DownloadDir
			}
			store, err := storage.NewFileStore(outDir)
			if err != nil {
				return err
			}
			for _, u := range status.OutputURLs {
				key, err := downloadToStore(cmd.Context(), store, executionID, u)
				if err != nil {
					return err
				}
				fmt.Println(filepath.Join(store.BasePath(), key))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "download directory (default from config)")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var (
		limit     int
		workflows []string
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a feed page's media as a zip archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := fetchFeed(cmd.Context(), c.gateway, limit, 0, workflows)
			if err != nil {
				return err
			}
			var assets []zip.Asset
			for _, it := range res.Items {
				if it.URL == "" {
					continue
				}
				data, name, err := fetchMedia(cmd.Context(), it.URL)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skipping %s: %v\n", it.ExecutionID, err)
					continue
				}
				assets = append(assets, zip.Asset{Filename: it.ExecutionID + "-" + name, Data: data})
			}
			archive, err := zip.ArchiveAssets(assets)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, archive, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d files)\n", outPath, len(assets))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of feed items to export")
	cmd.Flags().StringSliceVar(&workflows, "workflows", nil, "workflow name allow-list")
	cmd.Flags().StringVar(&outPath, "out", "export.zip", "archive path")
	return cmd
}

func newPrefsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Manage saved preferences",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Save a preference",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.prefs.Set(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a preference",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var value string
				found, err := c.prefs.Get(cmd.Context(), args[0], &value)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no preference %q", args[0])
				}
				fmt.Println(value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List preference keys",
			RunE: func(cmd *cobra.Command, args []string) error {
				keys, err := c.prefs.Keys(cmd.Context())
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			},
		},
	)
	return cmd
}

// watchJob polls the gateway on a single timer until the job leaves
// processing or the context ends.
func watchJob(ctx context.Context, gw *gatewayClient, kind, executionID string, interval time.Duration) (*jobStatusResponse, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		var status jobStatusResponse
		if err := gw.do(ctx, http.MethodGet, "/v1/jobs/"+kind+"/"+url.PathEscape(executionID), nil, nil, &status); err != nil {
			return nil, err
		}
		switch status.Status {
		case string(domain.JobStatusCompleted), string(domain.JobStatusFailed):
			return &status, nil
		}
		fmt.Printf("%s: %s\n", executionID, status.Status)
		timer.Reset(interval)
	}
}

func fetchFeed(ctx context.Context, gw *gatewayClient, limit, offset int, workflows []string) (*feedResponse, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	if len(workflows) > 0 {
		query.Set("workflows", strings.Join(workflows, ","))
	}
	var res feedResponse
	if err := gw.do(ctx, http.MethodGet, "/v1/feed", query, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// applyDimensionParams feeds the --width/--height flags into the template
// parameter bag when the workflow declares WIDTH/HEIGHT tokens, so the user
// does not have to repeat them as --param pairs. Explicit --param values win.
func applyDimensionParams(ctx context.Context, gw *gatewayClient, workflowName string, width, height int, params map[string]any) error {
	if width <= 0 && height <= 0 {
		return nil
	}
	var res workflowsResponse
	if err := gw.do(ctx, http.MethodGet, "/v1/workflows", nil, nil, &res); err != nil {
		return err
	}
	for _, wf := range res.Workflows {
		if wf.Name != workflowName {
			continue
		}
		for _, ph := range wf.Placeholders {
			switch ph.Token {
			case "WIDTH":
				if width > 0 {
					if _, ok := params["WIDTH"]; !ok {
						params["WIDTH"] = width
					}
				}
			case "HEIGHT":
				if height > 0 {
					if _, ok := params["HEIGHT"]; !ok {
						params["HEIGHT"] = height
					}
				}
			}
		}
		return nil
	}
	return nil
}

func parseParams(pairs []string) map[string]any {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(value); err == nil {
			params[key] = n
			continue
		}
		params[key] = value
	}
	return params
}

func fileToDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func downloadToStore(ctx context.Context, store *storage.FileStore, executionID, mediaURL string) (string, error) {
	data, name, err := fetchMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	return store.Write(ctx, executionID+"/"+name, data)
}

func fetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", mediaURL, res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 512<<20))
	if err != nil {
		return nil, "", err
	}
	name := "result"
	if u, err := url.Parse(mediaURL); err == nil {
		if fn := u.Query().Get("filename"); fn != "" {
			name = fn
		}
	}
	return data, name, nil
}
