package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or change the spec lock",
	Long: `The spec lock pauses a run before its next batch. Workers report a
gap in the specification with 'lock report'; once the specification is
updated, 'lock release' lets the run continue.`,
}

var lockReportCmd = &cobra.Command{
	Use:   "report <item> <worker> <gap...>",
	Short: "Report a specification gap and lock",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runLockReport,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the spec lock",
	Args:  cobra.NoArgs,
	RunE:  runLockRelease,
}

var lockWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the spec lock is released",
	Long:  `Wait exits 0 once the lock is released and 1 when the timeout expires first.`,
	Args:  cobra.NoArgs,
	RunE:  runLockWait,
}

var lockInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the spec lock",
	Args:  cobra.NoArgs,
	RunE:  runLockInfo,
}

var lockWaitTimeout time.Duration

func init() {
	lockWaitCmd.Flags().DurationVar(&lockWaitTimeout, "timeout", 30*time.Minute, "maximum time to wait")

	lockCmd.AddCommand(lockReportCmd, lockReleaseCmd, lockWaitCmd, lockInfoCmd)
}

func runLockReport(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	gap := strings.Join(args[2:], " ")
	if err := e.lock.ReportGap(cmd.Context(), args[0], args[1], gap); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), e.lock.GetLockInfo(cmd.Context()))
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if err := e.lock.ReleaseLock(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Spec lock released.")
	return nil
}

func runLockWait(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	released, err := e.lock.WaitForSpecUpdate(cmd.Context(), lockWaitTimeout)
	if err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("spec lock still held after %s", lockWaitTimeout)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Spec lock released.")
	return nil
}

func runLockInfo(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	fmt.Fprintln(cmd.OutOrStdout(), e.lock.GetLockInfo(cmd.Context()))
	return nil
}
