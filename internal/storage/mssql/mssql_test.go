package mssql

import (
	"strings"
	"testing"

	"pimbridge/internal/storage"
	"pimbridge/internal/storage/sqlstore"
)

func TestUpsertSQL_Merge(t *testing.T) {
	t.Parallel()
	got := Dialect{}.Upsert(sqlstore.Upsert{
		Table:     "attribute_mappings",
		Columns:   []string{"origin_attribute", "is_new", "created_at"},
		Conflict:  []string{"origin_attribute"},
		Keep:      []string{"created_at"},
		Returning: []string{"id", "created_at"},
	})
	want := "MERGE INTO [attribute_mappings] WITH (HOLDLOCK) AS [target]" +
		" USING (SELECT @p1 AS [origin_attribute], @p2 AS [is_new], @p3 AS [created_at]) AS [source]" +
		" ON [target].[origin_attribute] = [source].[origin_attribute]" +
		" WHEN MATCHED THEN UPDATE SET [target].[is_new] = [source].[is_new]" +
		" WHEN NOT MATCHED THEN INSERT ([origin_attribute], [is_new], [created_at])" +
		" VALUES ([source].[origin_attribute], [source].[is_new], [source].[created_at])" +
		" OUTPUT inserted.[id], inserted.[created_at];"
	if got != want {
		t.Fatalf("merge sql:\n got=%s\nwant=%s", got, want)
	}
}

func TestUpsertSQL_NoUpdateNoOutput(t *testing.T) {
	t.Parallel()
	got := Dialect{}.Upsert(sqlstore.Upsert{
		Table:    "destination_options",
		Columns:  []string{"attribute_code", "code"},
		Conflict: []string{"attribute_code", "code"},
	})
	if strings.Contains(got, "WHEN MATCHED") || strings.Contains(got, "OUTPUT") {
		t.Fatalf("unexpected clauses: %s", got)
	}
	if !strings.Contains(got, "ON [target].[attribute_code] = [source].[attribute_code] AND [target].[code] = [source].[code]") {
		t.Fatalf("composite key join missing: %s", got)
	}
	if !strings.HasSuffix(got, ";") {
		t.Fatalf("MERGE must be terminated: %s", got)
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()
	spec, _ := storage.TableByName(storage.TableValueMappings)
	got, err := Dialect{}.CreateTable(spec)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for _, frag := range []string{
		"IF OBJECT_ID(N'value_mappings', N'U') IS NULL BEGIN CREATE TABLE [value_mappings] (",
		"[id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[origin_uom] NVARCHAR(255) NOT NULL DEFAULT ''",
		"[existing_label] NVARCHAR(MAX) NOT NULL DEFAULT ''",
		"[is_new] BIT NOT NULL DEFAULT 0",
		"UNIQUE ([origin_attribute], [origin_value], [origin_uom])",
		"); END;",
	} {
		if !strings.Contains(got, frag) {
			t.Fatalf("missing %q in %s", frag, got)
		}
	}
}

func TestIdentAndPage(t *testing.T) {
	t.Parallel()
	d := Dialect{}
	if got := d.Ident("dbo.imports"); got != "[dbo].[imports]" {
		t.Fatalf("Ident=%s", got)
	}
	if got := d.Ident("we]ird"); got != "[we]]ird]" {
		t.Fatalf("Ident=%s", got)
	}
	if got := d.Page(100, 50); got != "OFFSET 100 ROWS FETCH NEXT 50 ROWS ONLY" {
		t.Fatalf("Page=%s", got)
	}
}
