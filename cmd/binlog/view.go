package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdcflow/binlog"
)

func newViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print binlog events of server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			c, err := binlog.NewClient(opts)
			if err != nil {
				return err
			}
			for e, err := range c.Replicate(cmd.Context()) {
				if err != nil {
					return fmt.Errorf("at %s: %w", c.Cursor(), err)
				}
				printEvent(os.Stdout, e)
			}
			return nil
		},
	}
	connectionFlags(cmd.Flags())
	return cmd
}

func newFileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "file PATH...",
		Short: "Print events of binlog files on disk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			for _, path := range args {
				if err := viewFile(os.Stdout, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func viewFile(w io.Writer, path string) error {
	f, err := binlog.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for {
		e, err := f.NextEvent()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printEvent(w, e)
	}
}

func printEvent(w io.Writer, e binlog.Event) {
	fmt.Fprintf(w, "%s %s:0x%04x %-17s",
		time.Unix(int64(e.Header.Timestamp), 0).UTC().Format("2006-01-02 15:04:05"),
		e.Header.LogFile,
		e.Header.NextPos,
		e.Header.EventType,
	)
	switch d := e.Data.(type) {
	case *binlog.FormatDescriptionEvent:
		fmt.Fprintln(w, " v"+strconv.Itoa(int(d.BinlogVersion)), d.ServerVersion)
	case *binlog.RotateEvent:
		fmt.Fprintf(w, "%s:%d\n", d.NextBinlog, d.Position)
	case *binlog.QueryEvent:
		fmt.Fprintln(w, d.Schema+":", d.Query)
	case *binlog.XidEvent:
		fmt.Fprintln(w, d.Xid)
	case *binlog.GTIDEvent:
		fmt.Fprintln(w, d.GTID)
	case *binlog.MariaDBGTIDEvent:
		fmt.Fprintln(w, d.GTID)
	case *binlog.TableMapEvent:
		fmt.Fprintln(w, d.SchemaName+"."+d.TableName)
	case *binlog.WriteRowsEvent:
		fmt.Fprintln(w, tableName(d.Table))
		for _, row := range d.Rows {
			printRow(w, "     SET:", d.Table, row)
		}
	case *binlog.DeleteRowsEvent:
		fmt.Fprintln(w, tableName(d.Table))
		for _, row := range d.Rows {
			printRow(w, "   WHERE:", d.Table, row)
		}
	case *binlog.UpdateRowsEvent:
		fmt.Fprintln(w, tableName(d.Table))
		for _, row := range d.Rows {
			printRow(w, "     SET:", d.Table, row.After)
			printRow(w, "   WHERE:", d.Table, row.Before)
		}
	case *binlog.TransactionPayloadEvent:
		fmt.Fprintf(w, "%d events\n", len(d.Events))
		for _, inner := range d.Events {
			fmt.Fprint(w, "  ")
			printEvent(w, inner)
		}
	default:
		fmt.Fprintln(w)
	}
}

func tableName(t *binlog.TableMapEvent) string {
	if t == nil {
		return ""
	}
	return t.SchemaName + "." + t.TableName
}

func printRow(w io.Writer, prefix string, t *binlog.TableMapEvent, row []interface{}) {
	fmt.Fprint(w, prefix)
	for i, v := range row {
		col := "@" + strconv.Itoa(i)
		if t != nil && i < len(t.Columns) && t.Columns[i].Name != "" {
			col = t.Columns[i].Name
		}
		fmt.Fprintf(w, " %s=%s", col, literal(v))
	}
	fmt.Fprintln(w)
}

func literal(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("x'%x'", v)
	case time.Time:
		return v.Format("'2006-01-02 15:04:05.999999'")
	case binlog.Set:
		m := v.Members()
		sort.Strings(m)
		return strconv.Quote(strings.Join(m, ","))
	case binlog.Enum:
		return strconv.Quote(v.String())
	case binlog.JSON:
		return fmt.Sprintf("%v", v.Val)
	case binlog.JSONDiff:
		return fmt.Sprintf("json_diff(x'%x')", []byte(v))
	}
	return fmt.Sprint(v)
}
