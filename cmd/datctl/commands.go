package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	parser "github.com/ojos-clinic/go-autoref-parser"
	"github.com/ojos-clinic/go-autoref-parser/capture"
	"github.com/ojos-clinic/go-autoref-parser/datfs"
)

func (a *app) layout(flag string) parser.Layout {
	if flag == "" {
		return a.cfg.Layout()
	}
	return parser.ParseLayout(flag)
}

func (a *app) parseCmd() *cobra.Command {
	var (
		layout string
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "parse FILE...",
		Short: "Parse .dat files",
		Long: "Parse one or more .dat files. A single file prints its record, several files\n" +
			"print the import summary with records sorted newest first.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.cfg.Parser()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				result, err := p.ParseFile(f, args[0], a.layout(layout))
				if err != nil {
					return err
				}
				if full {
					return a.print(out, result)
				}
				return a.print(out, result.Records[0].Refraction)
			}

			sources := make([]parser.DatSource, 0, len(args))
			for _, name := range args {
				f, err := os.Open(name)
				if err != nil {
					a.log.Warn("%v", err)
					sources = append(sources, parser.DatSource{Filename: name})
					continue
				}
				defer f.Close()
				sources = append(sources, parser.DatSource{Filename: name, Reader: f})
			}
			result := p.ImportBatch(sources, a.layout(layout))
			parser.SortNewestFirst(result.Records)
			if err := a.print(out, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%d of %d files failed", result.Failed, result.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&layout, "layout", "l", "", "auto, strict or legacy (default from config)")
	cmd.Flags().BoolVar(&full, "full", false, "print digest and layout along with the record")
	return cmd
}

// patientFlags flags describing who a record belongs to.
type patientFlags struct {
	surname   string
	name      string
	historyID string
	freeform  string
}

func (pf *patientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&pf.surname, "surname", "", "patient surname")
	cmd.Flags().StringVar(&pf.name, "name", "", "patient first name")
	cmd.Flags().StringVar(&pf.historyID, "hc", "", "clinical history id")
	cmd.Flags().StringVar(&pf.freeform, "current-name", "", "freeform \"SURNAME, Name\" used when no surname is given")
}

func (pf *patientFlags) context() parser.PatientContext {
	ctx := parser.PatientContext{CurrentName: pf.freeform}
	if pf.surname != "" || pf.name != "" || pf.historyID != "" {
		ctx.Selected = &parser.Patient{Name: pf.name, Surname: pf.surname, HistoryID: pf.historyID}
	}
	return ctx
}

func (a *app) serializeCmd() *cobra.Command {
	var (
		output   string
		encoding string
	)
	cmd := &cobra.Command{
		Use:   "serialize RECORD",
		Short: "Write a JSON or YAML record back to .dat text",
		Long:  "Write a JSON or YAML record back to .dat text. RECORD may be - for JSON on stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readRecord(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("encoding") {
				encoding = a.cfg.Instrument.Encoding
			}
			data, err := parser.EncodeInstrumentText(parser.SerializeDat(r), encoding)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&encoding, "encoding", "", "utf-8, windows-1252 or latin1 (default from config)")
	return cmd
}

func (a *app) filenameCmd() *cobra.Command {
	var pf patientFlags
	cmd := &cobra.Command{
		Use:   "filename RECORD",
		Short: "Print the file name a record is saved under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readRecord(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), parser.BuildDatFilename(r, pf.context()))
			return err
		},
	}
	pf.register(cmd)
	return cmd
}

// openFolder opens the folder given on the command line, else the configured
// one, else the linked one.
func (a *app) openFolder(args []string, configured string, linked func(*datfs.LinkStore) (*datfs.OSDirectory, error)) (*datfs.OSDirectory, error) {
	switch {
	case len(args) > 0:
		return datfs.NewOSDirectory(args[0])
	case configured != "":
		return datfs.NewOSDirectory(configured)
	}
	path := a.cfg.Folders.Links
	if path == "" {
		path = datfs.DefaultLinkPath()
	}
	return linked(datfs.NewLinkStore(path))
}

type listEntry struct {
	datfs.FileInfo `yaml:",inline"`
	Info           *parser.FilenameInfo `json:"info,omitempty" yaml:"info,omitempty"`
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [DIR]",
		Short: "List .dat files, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configured := a.cfg.Folders.Save
			if configured == "" {
				configured = a.cfg.Folders.Read
			}
			dir, err := a.openFolder(args, configured, (*datfs.LinkStore).OpenSave)
			if err != nil {
				return err
			}
			files, err := dir.List(cmd.Context())
			if err != nil {
				return err
			}
			entries := make([]listEntry, 0, len(files))
			for _, f := range files {
				e := listEntry{FileInfo: f}
				if info, ok := parser.ParseFilename(f.Name); ok {
					e.Info = &info
				}
				entries = append(entries, e)
			}
			return a.print(cmd.OutOrStdout(), entries)
		},
	}
}

func (a *app) latestCmd() *cobra.Command {
	var layout string
	cmd := &cobra.Command{
		Use:   "latest [DIR]",
		Short: "Parse the newest .dat file of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.openFolder(args, a.cfg.Folders.Read, (*datfs.LinkStore).OpenRead)
			if err != nil {
				return err
			}
			info, data, err := datfs.Latest(cmd.Context(), dir)
			if err != nil {
				return err
			}
			result, err := a.cfg.Parser().ParseFile(bytes.NewReader(data), info.Name, a.layout(layout))
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]interface{}{
				"file":   info,
				"record": result.Records[0].Refraction,
			})
		},
	}
	cmd.Flags().StringVarP(&layout, "layout", "l", "", "auto, strict or legacy (default from config)")
	return cmd
}

func (a *app) captureCmd() *cobra.Command {
	var (
		port    string
		baud    int
		idle    time.Duration
		timeout time.Duration
		saveDir string
		raw     bool
		pf      patientFlags
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Wait for the instrument to send a record over the serial port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Capture()
			if port != "" {
				cfg.PortName = port
			}
			if baud > 0 {
				cfg.BaudRate = baud
			}
			if idle > 0 {
				cfg.IdleTimeout = idle
			}
			reader := capture.NewReader(cfg, capture.WithLogger(a.log), capture.WithOpener(serialOpener))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			record, text, err := reader.CaptureRecord(ctx, a.cfg.Parser())
			if err != nil {
				return err
			}
			if saveDir != "" {
				if err := a.save(cmd.Context(), saveDir, record, pf.context()); err != nil {
					return err
				}
			}
			if raw {
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			return a.print(cmd.OutOrStdout(), record)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&port, "port", "p", "", "serial port (default from config)")
	f.IntVar(&baud, "baud", 0, "baud rate (default from config)")
	f.DurationVar(&idle, "idle", 0, "end of transmission after this much silence")
	f.DurationVar(&timeout, "timeout", 0, "give up waiting after this long (default: wait until Ctrl+C)")
	f.StringVar(&saveDir, "save", "", "also save the record as .dat into this folder")
	f.BoolVar(&raw, "raw", false, "print the received text instead of the parsed record")
	pf.register(cmd)
	return cmd
}

// serialOpener opens the instrument port; tests replace it.
var serialOpener capture.Opener = capture.SerialOpener

func (a *app) save(ctx context.Context, folder string, r *parser.AutoRefraction, patient parser.PatientContext) error {
	dir, err := datfs.NewOSDirectory(folder)
	if err != nil {
		return err
	}
	if err := datfs.EnsurePermission(ctx, dir, datfs.ModeReadWrite); err != nil {
		return err
	}
	data, err := parser.EncodeInstrumentText(parser.SerializeDat(r), a.cfg.Instrument.Encoding)
	if err != nil {
		return err
	}
	name := parser.BuildDatFilename(r, patient)
	if err := dir.Write(ctx, name, data); err != nil {
		return err
	}
	a.log.Info("saved %s", name)
	return nil
}

func (a *app) portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := capture.ListPorts()
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), ports)
		},
	}
}

func (a *app) layoutsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List the supported file layouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(cmd.OutOrStdout(), parser.GetSupportedLayouts())
		},
	}
}
