package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ytget/linkgrab/internal/archive"
	"github.com/ytget/linkgrab/internal/batch"
	"github.com/ytget/linkgrab/internal/config"
	"github.com/ytget/linkgrab/internal/logger"
	"github.com/ytget/linkgrab/internal/model"
	"github.com/ytget/linkgrab/internal/relay"
	"github.com/ytget/linkgrab/internal/resolve"
	"github.com/ytget/linkgrab/internal/store"
)

type fetchOptions struct {
	inputPath   string
	archivePath string
	endpoint    string
	groupSize   int
	pacing      time.Duration
	retryFailed bool
}

func newFetchCommand(configPath *string) *cobra.Command {
	opts := &fetchOptions{}

	fetchCmd := &cobra.Command{
		Use:   "fetch [links...]",
		Short: "Resolve the given links and report per-task results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			applyFlags(cfg, opts, cmd)

			links, err := collectLinks(args, opts.inputPath)
			if err != nil {
				return err
			}
			if len(links) == 0 {
				return fmt.Errorf("no links given; pass them as arguments or via --input")
			}

			return runFetch(cmd, cfg, opts, links)
		},
	}

	fetchCmd.Flags().StringVar(&opts.inputPath, "input", "", "file with one link per line")
	fetchCmd.Flags().StringVar(&opts.archivePath, "archive", "", "write completed payloads to this zip file")
	fetchCmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "override the resolution endpoint")
	fetchCmd.Flags().IntVar(&opts.groupSize, "group-size", 0, "tasks resolved concurrently per group")
	fetchCmd.Flags().DurationVar(&opts.pacing, "pacing", 0, "delay between groups")
	fetchCmd.Flags().BoolVar(&opts.retryFailed, "retry-failed", false, "run failed tasks through one more pass")

	return fetchCmd
}

func applyFlags(cfg *config.Config, opts *fetchOptions, cmd *cobra.Command) {
	if opts.endpoint != "" {
		cfg.Resolver.Endpoint = opts.endpoint
	}
	if opts.groupSize > 0 {
		cfg.Scheduler.GroupSize = opts.groupSize
	}
	if cmd.Flags().Changed("pacing") {
		cfg.Scheduler.Pacing = opts.pacing
	}
}

func runFetch(cmd *cobra.Command, cfg *config.Config, opts *fetchOptions, links []string) error {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fetcher := relay.NewFetcher(&http.Client{}, log.SugaredLogger)

	resolver := resolve.NewResolver(fetcher, log.SugaredLogger)
	resolver.SetEndpoint(cfg.Resolver.Endpoint)
	resolver.SetMaxRetries(cfg.Resolver.MaxRetries)

	taskStore := store.NewStore()
	scheduler := batch.NewScheduler(taskStore, resolver, log.SugaredLogger)
	scheduler.SetGroupSize(cfg.Scheduler.GroupSize)
	scheduler.SetPacing(cfg.Scheduler.Pacing)

	for _, link := range links {
		if _, err := taskStore.Enqueue(link); err != nil {
			log.Warnw("skipping link", "link", link, "error", err)
		}
	}

	if err := scheduler.Run(ctx); err != nil {
		return err
	}
	if opts.retryFailed {
		if err := scheduler.RetryFailed(ctx); err != nil {
			return err
		}
	}

	tasks := taskStore.All()
	fmt.Fprintln(cmd.OutOrStdout(), renderTaskTable(tasks))

	completed := taskStore.Completed()
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d resolved\n", len(completed), len(tasks))

	if opts.archivePath == "" || len(completed) == 0 {
		return nil
	}

	archiver := archive.NewArchiver(fetcher, log.SugaredLogger)
	archiver.SetGroupSize(cfg.Archive.FetchParallel)

	blob, summary, err := archiver.Run(ctx, completed)
	if err != nil {
		return fmt.Errorf("archive creation failed: %w", err)
	}
	if err := os.WriteFile(opts.archivePath, blob, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", opts.archivePath, summary.Label)
	return nil
}

// collectLinks merges argument links with an optional input file, keeping
// only lines that look like links to the target platform
func collectLinks(args []string, inputPath string) ([]string, error) {
	links := make([]string, 0, len(args))
	appendLink := func(raw string) {
		link := strings.TrimSpace(raw)
		if link == "" || strings.HasPrefix(link, "#") {
			return
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			return
		}
		links = append(links, link)
	}

	for _, arg := range args {
		appendLink(arg)
	}

	if inputPath != "" {
		file, err := os.Open(inputPath)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			appendLink(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
	}

	return links, nil
}

func renderTaskTable(tasks []model.Task) string {
	rows := make([][]string, 0, len(tasks))
	for i, task := range tasks {
		detail := task.GetDisplayTitle()
		if task.Status == model.TaskStatusFailed {
			detail = task.LastError
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			task.Status.String(),
			strconv.Itoa(task.Progress) + "%",
			detail,
		})
	}
	return renderTable(
		[]string{"#", "Status", "Progress", "Detail"},
		rows,
		[]text.Align{text.AlignRight, text.AlignLeft, text.AlignRight, text.AlignLeft},
	)
}
