/*
Package binlog implements mysql binlog replication protocol.

It connects to a MySQL or MariaDB server as a replica and decodes the
binlog into typed events, including row images of RBR events.

to stream events:

	c, err := binlog.NewClient(binlog.Options{
		Address:  "localhost:3306",
		Username: "repl",
		Password: "secret",
		Start:    binlog.FromPosition("binlog.000001", 4),
	})
	if err != nil {
		return err
	}
	for e, err := range c.Replicate(ctx) {
		if err != nil {
			return err
		}
		switch d := e.Data.(type) {
		case *binlog.WriteRowsEvent:
			fmt.Printf("insert into %s.%s: %v\n", d.Table.SchemaName, d.Table.TableName, d.Rows)
		case *binlog.UpdateRowsEvent:
			for _, row := range d.Rows {
				fmt.Printf("update %v to %v\n", row.Before, row.After)
			}
		case *binlog.DeleteRowsEvent:
			fmt.Printf("delete %v\n", d.Rows)
		}
	}

The cursor advances past an event once the loop body for it returns.
Replicate ends on the first error; call it again to resume from
c.Cursor(), or save the cursor and pass it as Options.Start to a new
Client. Position cursors advance at transaction boundaries and never
past a TableMapEvent whose rows events are not yet consumed. GTID
cursors record a transaction when its commit is consumed.

Remote gives lower level access, one command at a time:

	bl, err := binlog.Dial(ctx, "tcp", "localhost:3306")
	if err != nil {
		return err
	}
	if bl.IsSSLSupported() {
		if err = bl.UpgradeSSL(tlsConfig); err != nil {
			return err
		}
	}
	if err := bl.Authenticate("root", "secret"); err != nil {
		return err
	}
	if err := bl.Seek(serverID, "binlog.000001", 4, true); err != nil {
		return err
	}
	for {
		e, err := bl.NextEvent()
		if err == io.EOF {
			break
		}
		...
	}

OpenFile reads binlog files from disk the same way.

for example usage see cmd/binlog
*/
package binlog
