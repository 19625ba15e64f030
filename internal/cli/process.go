package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewStartCmd создаёт команду запуска конвейера.
func NewStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start order generation and processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			resp, err := clientFn().StartProcess()
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(resp)
				return nil
			}
			out.Success(resp.Message)
			return nil
		},
	}
}

// NewStatusCmd создаёт команду вывода состояния запуска.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current run status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFn().Status()
			if err != nil {
				return err
			}
			printStatus(outputFn(), status)
			return nil
		},
	}
}

// NewStatsCmd создаёт команду вывода агрегатов заказов и очередей.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show order counts and queue sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			stats, err := clientFn().Stats()
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(stats)
				return nil
			}

			rows := make([][]string, len(stats.Orders))
			for i, s := range stats.Orders {
				rows[i] = []string{s.Priority, s.Status, strconv.FormatInt(s.Count, 10)}
			}
			out.Table([]string{"PRIORITY", "STATUS", "COUNT"}, rows)

			fmt.Fprintln(out.w)

			qrows := make([][]string, 0, len(stats.Queues))
			for _, lane := range []string{"HIGH", "NORMAL"} {
				c, ok := stats.Queues[lane]
				if !ok {
					continue
				}
				qrows = append(qrows, []string{
					lane,
					strconv.FormatInt(c.Waiting, 10),
					strconv.FormatInt(c.Active, 10),
					strconv.FormatInt(c.Delayed, 10),
					strconv.FormatInt(c.Failed, 10),
				})
			}
			out.Table([]string{"LANE", "WAITING", "ACTIVE", "DELAYED", "FAILED"}, qrows)
			return nil
		},
	}
}

// NewResetCmd создаёт команду очистки очередей и заказов.
func NewResetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear queues and drop all orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset drops all orders; pass --yes to confirm")
			}

			out := outputFn()
			resp, err := clientFn().Reset()
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(resp)
				return nil
			}
			out.Success(resp.Message)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm reset")

	return cmd
}

// NewWatchCmd создаёт команду периодического опроса состояния до завершения запуска.
func NewWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval time.Duration
	var start bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll run status until it finishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if start {
				resp, err := client.StartProcess()
				if err != nil {
					return err
				}
				out.Success(resp.Message)
			}

			status, err := watch(cmd, client, interval, func(s *StatusResponse) {
				if !out.JSONMode() {
					out.Success(progressLine(s))
				}
			})
			if err != nil {
				return err
			}

			printStatus(out, status)
			if status.Status == "ERROR" {
				return fmt.Errorf("run failed: %s", deref(status.Error))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().BoolVar(&start, "start", false, "Start a run before watching")

	return cmd
}

// watch опрашивает /pedidos, пока фаза не станет финальной.
// После --start фаза уже GENERATING: координатор меняет её до ответа 202.
func watch(cmd *cobra.Command, client *Client, interval time.Duration, onTick func(*StatusResponse)) (*StatusResponse, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := client.Status()
		if err != nil {
			return nil, err
		}
		if status.Finished() {
			return status, nil
		}
		onTick(status)

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func printStatus(out *Output, s *StatusResponse) {
	if out.JSONMode() {
		out.JSON(s)
		return
	}

	out.KeyValue([][2]string{
		{"Run", deref(s.RunID)},
		{"Status", s.Status},
		{"Error", deref(s.Error)},
		{"Lane policy", s.LanePolicy},
		{"Generated", fmt.Sprintf("%d/%d (failed %d) in %s", s.Generation.Count, s.Generation.Requested, s.Generation.Failed, seconds(s.Generation.Duration))},
		{"Total time", seconds(s.TotalTime)},
	})
	fmt.Fprintln(out.w)

	lane := func(name string, l LaneStats) []string {
		return []string{
			name,
			strconv.Itoa(l.Count),
			strconv.FormatInt(l.ProcessedRecords, 10),
			fmt.Sprintf("%d/%d", l.CompletedItems, l.Items),
			strconv.Itoa(l.FailedItems),
			strconv.Itoa(l.FailedRecords),
			seconds(l.Duration),
		}
	}
	out.Table(
		[]string{"LANE", "ORDERS", "PROCESSED", "ITEMS", "FAILED_ITEMS", "FAILED_ORDERS", "DURATION"},
		[][]string{
			lane("HIGH", s.HighProcessing),
			lane("NORMAL", s.NormalProcessing),
		},
	)
}

func progressLine(s *StatusResponse) string {
	return fmt.Sprintf("%s  generated=%d  high=%d/%d  normal=%d/%d",
		s.Status,
		s.Generation.Count,
		s.HighProcessing.ProcessedRecords, s.HighProcessing.Count,
		s.NormalProcessing.ProcessedRecords, s.NormalProcessing.Count,
	)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "s"
}

func deref(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}
