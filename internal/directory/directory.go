// Package directory maps chat usernames to the mailbox account that receives
// their verification mail. The mapping is maintained by operators as a
// spreadsheet; it is loaded as an immutable snapshot and swapped atomically on
// reload.
package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Directory is an immutable username to email snapshot.
type Directory struct {
	entries map[string]string
}

// Load reads the first sheet of an xlsx file. The header row locates the
// Email and Username columns case-insensitively. A username cell may list
// comma-separated aliases, each mapped independently to the row's email. The
// first mapping for a duplicate alias wins; later duplicates are ignored.
func Load(path string) (*Directory, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("directory: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, errors.New("directory: sheet is empty")
	}

	emailCol, usernameCol := -1, -1
	for i, header := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(header)) {
		case "email":
			if emailCol < 0 {
				emailCol = i
			}
		case "username":
			if usernameCol < 0 {
				usernameCol = i
			}
		}
	}
	if emailCol < 0 || usernameCol < 0 {
		return nil, errors.New("directory: header row missing Email or Username column")
	}

	entries := make(map[string]string)
	for _, row := range rows[1:] {
		if emailCol >= len(row) || usernameCol >= len(row) {
			continue
		}
		email := strings.TrimSpace(row[emailCol])
		if email == "" {
			continue
		}
		for _, alias := range strings.Split(row[usernameCol], ",") {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			if _, exists := entries[alias]; exists {
				continue
			}
			entries[alias] = email
		}
	}
	return &Directory{entries: entries}, nil
}

// Lookup resolves a username (case-sensitive, caller trims) to its mailbox
// account.
func (d *Directory) Lookup(username string) (string, bool) {
	if d == nil {
		return "", false
	}
	email, ok := d.entries[username]
	return email, ok
}

// Len returns the number of mapped aliases.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}
