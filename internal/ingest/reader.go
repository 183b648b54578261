package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

const ftpTimeout = 30 * time.Second

// ReadRows loads a tabular source and returns the header row plus data rows.
// Supported sources: local .csv and .xlsx files, and ftp:// URLs pointing at
// either.
func ReadRows(ctx context.Context, source string) ([]string, [][]string, error) {
	path := source
	if strings.HasPrefix(source, "ftp://") {
		local, cleanup, err := fetchFTP(ctx, source)
		if err != nil {
			return nil, nil, err
		}
		defer cleanup()
		path = local
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer func() { _ = f.Close() }()
		return readCSV(f)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

func readCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	var header []string
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: read csv row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if header == nil {
			header = record
			continue
		}
		rows = append(rows, record)
	}
	if header == nil {
		return nil, nil, eris.New("ingest: empty csv")
	}
	return header, rows, nil
}

func readXLSX(path string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("ingest: workbook has no sheets")
	}
	sheet := f.Sheets[0]

	var header []string
	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = strings.TrimSpace(cell.String())
		}
		if header == nil {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}
	if header == nil {
		return nil, nil, eris.New("ingest: empty sheet")
	}
	return header, rows, nil
}

// fetchFTP downloads the file behind an ftp:// URL to a temp file and returns
// the local path plus a cleanup func.
func fetchFTP(ctx context.Context, rawURL string) (string, func(), error) {
	host, remotePath, err := parseFTPURL(rawURL)
	if err != nil {
		return "", nil, err
	}

	zap.L().Debug("ingest: fetching over ftp", zap.String("host", host), zap.String("path", remotePath))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return "", nil, eris.Wrapf(err, "ingest: dial ftp %s", host)
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return "", nil, eris.Wrap(err, "ingest: ftp login")
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return "", nil, eris.Wrapf(err, "ingest: retrieve %s", remotePath)
	}
	defer func() { _ = resp.Close() }()

	tmp, err := os.CreateTemp("", "ingest-*"+filepath.Ext(remotePath))
	if err != nil {
		return "", nil, eris.Wrap(err, "ingest: create temp file")
	}
	if _, err := io.Copy(tmp, resp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, eris.Wrap(err, "ingest: download file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, eris.Wrap(err, "ingest: close temp file")
	}
	return tmp.Name(), func() { _ = os.Remove(tmp.Name()) }, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "ingest: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ingest: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("ingest: empty path in ftp url")
	}

	return host, path, nil
}
