// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/fleetworks/telemetryd/lib/codec"
	"github.com/fleetworks/telemetryd/lib/schema/telemetry"
)

const defaultServer = "http://localhost:8080"

// newFlagSet creates a per-command flag set with the shared --server
// flag.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	server := flags.String("server", defaultServer, "base URL of the telemetryd server")
	return flags, server
}

// getJSON fetches path from the server and decodes the JSON response
// into out. Non-2xx responses are decoded as the error envelope.
func getJSON(server, path string, params url.Values, out any) error {
	return requestJSON(http.MethodGet, server, path, params, out)
}

func requestJSON(method, server, path string, params url.Values, out any) error {
	requestURL := server + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	request, err := http.NewRequest(method, requestURL, nil)
	if err != nil {
		return err
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode/100 != 2 {
		return decodeError(response)
	}
	return json.NewDecoder(response.Body).Decode(out)
}

// decodeError turns a non-2xx response into a readable error using the
// server's JSON envelope when present.
func decodeError(response *http.Response) error {
	var envelope telemetry.ErrorResponse
	if err := json.NewDecoder(response.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%s: %s", response.Status, envelope.Error)
	}
	return errors.New(response.Status)
}

func machinesCmd(args []string) error {
	flags, server := newFlagSet("machines")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var machines []telemetry.Machine
	if err := getJSON(*server, "/machines", nil, &machines); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "MACHINE\tNAME\tLOCATION\tSTATUS")
	for _, machine := range machines {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			machine.MachineID, machine.Name, machine.Location, machine.Status)
	}
	return writer.Flush()
}

func metricsCmd(args []string) error {
	flags, server := newFlagSet("metrics")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var metrics []telemetry.Metric
	if err := getJSON(*server, "/metrics", nil, &metrics); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "METRIC\tNAME\tUNIT")
	for _, metric := range metrics {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", metric.MetricKey, metric.DisplayName, metric.Unit)
	}
	return writer.Flush()
}

func latestCmd(args []string) error {
	flags, server := newFlagSet("latest")
	machineID := flags.String("machine", "", "machine_id to query (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *machineID == "" {
		return errors.New("latest: --machine is required")
	}

	var readings []telemetry.Reading
	params := url.Values{"machine_id": {*machineID}}
	if err := getJSON(*server, "/latest", params, &readings); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "METRIC\tVALUE\tTIME")
	for _, reading := range readings {
		fmt.Fprintf(writer, "%s\t%.3f\t%s\n",
			reading.MetricKey, reading.Value, formatTsMs(reading.TsMs))
	}
	return writer.Flush()
}

func historyCmd(args []string) error {
	flags, server := newFlagSet("history")
	machineID := flags.String("machine", "", "machine_id to query (required)")
	metricKey := flags.String("metric", "", "metric_key to query (required)")
	startMs := flags.Int64("start-ms", 0, "earliest ts_ms to include (epoch ms)")
	endMs := flags.Int64("end-ms", 0, "latest ts_ms to include (epoch ms)")
	limit := flags.Int("limit", 0, "maximum points (server default when omitted)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *machineID == "" || *metricKey == "" {
		return errors.New("history: --machine and --metric are required")
	}

	params := url.Values{
		"machine_id": {*machineID},
		"metric_key": {*metricKey},
	}
	if flags.Changed("start-ms") {
		params.Set("start_ms", strconv.FormatInt(*startMs, 10))
	}
	if flags.Changed("end-ms") {
		params.Set("end_ms", strconv.FormatInt(*endMs, 10))
	}
	if flags.Changed("limit") {
		params.Set("limit", strconv.Itoa(*limit))
	}

	var points []telemetry.ReadingPoint
	if err := getJSON(*server, "/history", params, &points); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "TIME\tVALUE")
	for _, point := range points {
		fmt.Fprintf(writer, "%s\t%.3f\n", formatTsMs(point.TsMs), point.Value)
	}
	return writer.Flush()
}

func statsCmd(args []string) error {
	flags, server := newFlagSet("stats")
	machineID := flags.String("machine", "", "machine_id to query (required)")
	metricKey := flags.String("metric", "", "metric_key to query (required)")
	startMs := flags.Int64("start-ms", 0, "earliest ts_ms to include (epoch ms)")
	endMs := flags.Int64("end-ms", 0, "latest ts_ms to include (epoch ms)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *machineID == "" || *metricKey == "" {
		return errors.New("stats: --machine and --metric are required")
	}

	params := url.Values{
		"machine_id": {*machineID},
		"metric_key": {*metricKey},
	}
	if flags.Changed("start-ms") {
		params.Set("start_ms", strconv.FormatInt(*startMs, 10))
	}
	if flags.Changed("end-ms") {
		params.Set("end_ms", strconv.FormatInt(*endMs, 10))
	}

	var summary telemetry.StatsSummary
	if err := getJSON(*server, "/stats", params, &summary); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "count\t%d\n", summary.Count)
	fmt.Fprintf(writer, "min\t%.3f\n", summary.Min)
	fmt.Fprintf(writer, "max\t%.3f\n", summary.Max)
	fmt.Fprintf(writer, "mean\t%.3f\n", summary.Mean)
	fmt.Fprintf(writer, "p50\t%.3f\n", summary.P50)
	fmt.Fprintf(writer, "p90\t%.3f\n", summary.P90)
	fmt.Fprintf(writer, "p95\t%.3f\n", summary.P95)
	fmt.Fprintf(writer, "p99\t%.3f\n", summary.P99)
	return writer.Flush()
}

func simulateCmd(args []string, action string) error {
	flags, server := newFlagSet(action)
	if err := flags.Parse(args); err != nil {
		return err
	}

	var status telemetry.SimulatorStatus
	if err := requestJSON(http.MethodPost, *server, "/simulate/"+action, nil, &status); err != nil {
		return err
	}
	fmt.Printf("running: %t\n", status.Running)
	return nil
}

func statusCmd(args []string) error {
	flags, server := newFlagSet("status")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var status telemetry.SimulatorStatus
	if err := getJSON(*server, "/simulate/status", nil, &status); err != nil {
		return err
	}
	fmt.Printf("running: %t\n", status.Running)
	return nil
}

func tailCmd(args []string) error {
	flags, server := newFlagSet("tail")
	machineID := flags.String("machine", "", "filter the stream to one machine_id")
	if err := flags.Parse(args); err != nil {
		return err
	}

	requestURL := *server + "/tail"
	if *machineID != "" {
		requestURL += "?" + url.Values{"machine_id": {*machineID}}.Encode()
	}

	response, err := http.Get(requestURL)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeError(response)
	}

	decoder := codec.NewDecoder(response.Body)
	for {
		var frame telemetry.TailFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if frame.Type != telemetry.TailFrameBatch {
			continue
		}
		for _, reading := range frame.Readings {
			fmt.Printf("%s  %-10s %-12s %10.3f\n",
				formatTsMs(reading.TsMs), reading.MachineID, reading.MetricKey, reading.Value)
		}
	}
}

func exportCmd(args []string) error {
	flags, server := newFlagSet("export")
	machineID := flags.String("machine", "", "filter the dump to one machine_id")
	compress := flags.Bool("zstd", false, "request a zstd-compressed stream")
	if err := flags.Parse(args); err != nil {
		return err
	}

	params := url.Values{}
	if *machineID != "" {
		params.Set("machine_id", *machineID)
	}
	if *compress {
		params.Set("compress", "zstd")
	}
	requestURL := *server + "/export"
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	response, err := http.Get(requestURL)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeError(response)
	}

	var body io.Reader = response.Body
	if response.Header.Get("Content-Encoding") == "zstd" {
		zstdReader, err := zstd.NewReader(response.Body)
		if err != nil {
			return err
		}
		defer zstdReader.Close()
		body = zstdReader
	}

	decoder := codec.NewDecoder(body)
	for {
		var reading telemetry.Reading
		if err := decoder.Decode(&reading); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fmt.Printf("%s  %-10s %-12s %10.3f\n",
			formatTsMs(reading.TsMs), reading.MachineID, reading.MetricKey, reading.Value)
	}
}

// formatTsMs renders an epoch-ms timestamp in local RFC 3339 with
// millisecond precision.
func formatTsMs(tsMs int64) string {
	return time.UnixMilli(tsMs).Format("2006-01-02T15:04:05.000Z07:00")
}
