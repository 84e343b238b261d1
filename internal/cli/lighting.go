package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/palpalette/client/pkg/lighting"
	"github.com/palpalette/client/pkg/palapi"
)

func newLightingCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lighting",
		Short: "Device lighting commands",
		Long:  "Inspect, test and pair the lighting system attached to a device",
	}
	cmd.AddCommand(
		newLightingStatusCommand(e),
		newLightingWatchCommand(e),
		newLightingTestCommand(e),
		newLightingPairCommand(e),
		newLightingConfigureCommand(e),
	)
	return cmd
}

func newLightingStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status <device-id>",
		Short: "Show the lighting status of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}
			st, err := e.app.API().GetLightingStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.printStatus(st)
		},
	}
}

func newLightingWatchCommand(e *env) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch <device-id>",
		Short: "Poll the lighting status until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			poller := e.app.NewPoller()
			defer poller.Close()

			snapshots := make(chan lighting.Snapshot, 16)
			unsubscribe := poller.Subscribe(func(s lighting.Snapshot) {
				select {
				case snapshots <- s:
				default:
				}
			})
			defer unsubscribe()

			if interval <= 0 {
				interval = e.app.Config().PollInterval
			}
			if err := poller.StartPolling(ctx, args[0], interval); err != nil {
				return err
			}

			for seen := 0; count <= 0 || seen < count; seen++ {
				select {
				case <-ctx.Done():
					return nil
				case s := <-snapshots:
					if s.Err != nil {
						e.out.Warn("poll failed: %v", s.Err)
						continue
					}
					if err := e.printStatus(s.Status); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default from config)")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many updates (0 means until interrupted)")
	return cmd
}

func newLightingTestCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "test <device-id>",
		Short: "Ask a device to test its lighting system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}
			res, err := e.app.API().TestLightingSystem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if e.out.json {
				return e.out.JSON(res)
			}
			if !res.DeviceConnected {
				e.out.Warn("Test requested but the device is offline")
				return nil
			}
			e.out.Success("Test requested, watch the status for the result")
			return nil
		},
	}
}

func newLightingPairCommand(e *env) *cobra.Command {
	var (
		runTest bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pair <device-id>",
		Short: "Walk through lighting system authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result := make(chan error, 1)
			flow := e.app.NewAuthFlow(args[0], lighting.FlowConfig{
				OnChange: func(s lighting.AuthState) {
					if s.Message != "" && s.IsAuthenticating {
						e.out.Info("[%s] %s", s.CurrentStep, s.Message)
					}
				},
				OnSuccess: func(lighting.AuthState) { result <- nil },
				OnFailure: func(s lighting.AuthState) { result <- errors.New(s.Message) },
				OnError:   func(err error) { e.out.Warn("%v", err) },
			})
			defer flow.Close()

			// The test opens the suppression window before the first poll,
			// so a result left over from an earlier test is not reported.
			if runTest {
				if _, err := flow.TestConnection(ctx); err != nil {
					return err
				}
			}
			if err := flow.Start(ctx); err != nil {
				return err
			}

			select {
			case err := <-result:
				if err != nil {
					return fmt.Errorf("pairing failed: %w", err)
				}
				e.out.Success("Lighting system paired")
				return nil
			case <-ctx.Done():
				return fmt.Errorf("pairing did not finish: %w", ctx.Err())
			}
		},
	}
	cmd.Flags().BoolVar(&runTest, "test", false, "Request a connection test before polling starts")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")
	return cmd
}

func newLightingConfigureCommand(e *env) *cobra.Command {
	var cfg palapi.LightingConfig

	cmd := &cobra.Command{
		Use:   "configure <device-id>",
		Short: "Configure the lighting system of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireSession(); err != nil {
				return err
			}
			dev, err := e.app.API().ConfigureLightingSystem(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			if e.out.json {
				return e.out.JSON(dev)
			}
			e.out.Success("Configured %s on %s", dev.LightingSystemType, orDash(dev.Name))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.SystemType, "type", "", "Lighting system type (e.g. nanoleaf, hue, wled)")
	cmd.Flags().StringVar(&cfg.HostAddress, "host", "", "Lighting system host address")
	cmd.Flags().IntVar(&cfg.Port, "port", 0, "Lighting system port")
	cmd.Flags().StringVar(&cfg.AuthToken, "auth-token", "", "Lighting system auth token")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (e *env) printStatus(st *palapi.LightingStatus) error {
	if e.out.json {
		return e.out.JSON(st)
	}

	line := fmt.Sprintf("%s: %s", orDash(st.SystemType), st.Status)
	switch st.Status {
	case palapi.StatusWorking:
		e.out.Success("%s", line)
	case palapi.StatusError:
		e.out.Warn("%s", line)
	default:
		e.out.Info("%s", line)
	}
	if d, ok := lighting.Classify(st); ok && d.Step != lighting.StepSuccess && d.Step != lighting.StepFailed {
		e.out.Info("  %s", d.Message)
	}
	return nil
}
