package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

// DefaultIanseoURL is the public IANSEO results site.
const DefaultIanseoURL = "https://www.ianseo.net"

// ErrNoTable is returned when a category page has no result table.
var ErrNoTable = errors.New("no result table")

// Category is one division and gender class page of a tournament.
type Category struct {
	Division model.Division
	Class    model.Class
	Optional bool
}

// DefaultCategories are fetched by FetchEvent. Recurve and compound are
// always published; longbow and barebow may be missing.
var DefaultCategories = []Category{
	{model.Recurve, model.Men, false},
	{model.Recurve, model.Women, false},
	{model.Compound, model.Men, false},
	{model.Compound, model.Women, false},
	{model.Longbow, model.Men, true},
	{model.Longbow, model.Women, true},
	{model.Barebow, model.Men, true},
	{model.Barebow, model.Women, true},
}

// Scraper downloads qualification results from IANSEO.
type Scraper struct {
	client  *http.Client
	baseURL string
	logger  logger.Logger
}

// ScraperOption configures a Scraper.
type ScraperOption func(*Scraper)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) ScraperOption {
	return func(s *Scraper) {
		if c != nil {
			s.client = c
		}
	}
}

// WithBaseURL sets the site root used for relative tournament paths.
func WithBaseURL(u string) ScraperOption {
	return func(s *Scraper) {
		if u != "" {
			s.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithScraperLogger sets the scraper logger.
func WithScraperLogger(l logger.Logger) ScraperOption {
	return func(s *Scraper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScraper creates a scraper with a 10s client timeout.
func NewScraper(opts ...ScraperOption) *Scraper {
	s := &Scraper{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: DefaultIanseoURL,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TourURL resolves a tournament reference: absolute URLs are kept, anything
// else is a path under the base URL such as "TourData/2022/9959".
func (s *Scraper) TourURL(tour string) string {
	tour = strings.TrimRight(strings.TrimSpace(tour), "/")
	if strings.HasPrefix(tour, "http://") || strings.HasPrefix(tour, "https://") {
		return tour
	}
	return s.baseURL + "/" + strings.TrimLeft(tour, "/")
}

// FetchEvent downloads every default category of tour as records of eventID.
// Missing optional categories are skipped.
func (s *Scraper) FetchEvent(ctx context.Context, tour, eventID string) ([]model.Record, error) {
	var out []model.Record
	for _, c := range DefaultCategories {
		records, err := s.FetchCategory(ctx, tour, eventID, c.Division, c.Class)
		if err != nil {
			if c.Optional && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				s.logger.Debug(ctx, "optional category unavailable",
					logger.String("event_id", eventID),
					logger.String("category", string(c.Division)+string(c.Class)),
					logger.Error(err))
				continue
			}
			return nil, err
		}
		out = append(out, records...)
	}
	s.logger.Info(ctx, "scraped event", logger.String("event_id", eventID), logger.Int("records", len(out)))
	return out, nil
}

// FetchCategory downloads one IQ{division}{class}.php page.
func (s *Scraper) FetchCategory(ctx context.Context, tour, eventID string, div model.Division, class model.Class) ([]model.Record, error) {
	url := fmt.Sprintf("%s/IQ%s%s.php", s.TourURL(tour), div, class)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordError("ianseo", "fetch_failed")
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	records, st, err := ParseCategoryPage(resp.Body, eventID, div, class)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	metrics.RecordIngest("ianseo", st.Read, st.Dropped)
	return records, nil
}

// ParseCategoryPage reads a category result page. Pages with a
// "table.Griglia" use the older layout where the header is the row holding
// "Tot."; otherwise the first table is read with the newer layout, which
// interleaves two detail rows after every athlete.
func ParseCategoryPage(r io.Reader, eventID string, div model.Division, class model.Class) ([]model.Record, Stats, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("parsing html: %w", err)
	}

	var grid [][]string
	if t := grigliaSelector.MatchFirst(doc); t != nil {
		grid = tableTo2D(t)
		for i, row := range grid {
			if headerRow(row) {
				grid = grid[i:]
				break
			}
		}
	} else if t := tableSelector.MatchFirst(doc); t != nil {
		grid = tableTo2D(t)
		if len(grid) > 0 {
			grid = grid[1:]
		}
		grid = deleteEvery(grid, 2, 3)
		grid = deleteEvery(grid, 2, 2)
	} else {
		return nil, Stats{}, ErrNoTable
	}
	if len(grid) == 0 {
		return nil, Stats{}, ErrNoTable
	}

	return parseTable(withCategory(grid, div, class), eventID)
}

func headerRow(row []string) bool {
	for _, c := range row {
		switch strings.TrimSpace(c) {
		case "Tot.", "Score":
			return true
		}
	}
	return false
}

// withCategory renames IANSEO headers to the table columns and sets the
// division and class of every row.
func withCategory(grid [][]string, div model.Division, class model.Class) [][]string {
	header := make([]string, 0, len(grid[0])+2)
	for _, h := range grid[0] {
		switch strings.TrimSpace(h) {
		case "Tot.":
			h = ColScore
		case "Pos.", "Rank":
			h = ColCategoryRank
		case ColDivision, ColClass:
			h = "Source " + h
		}
		header = append(header, h)
	}
	out := make([][]string, 0, len(grid))
	out = append(out, append(header, ColDivision, ColClass))
	for _, row := range grid[1:] {
		r := make([]string, 0, len(row)+2)
		r = append(r, row...)
		out = append(out, append(r, string(div), string(class)))
	}
	return out
}

// WriteCSV writes records as a result table that ReadCSV reads back.
func WriteCSV(w io.Writer, records []model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColDivision, ColClass, ColScore, ColTens, ColNines, ColCategoryRank, ColAthlete}); err != nil {
		return err
	}
	for _, r := range records {
		rank := ""
		if r.CategoryRank > 0 {
			rank = strconv.Itoa(r.CategoryRank)
		}
		if err := cw.Write([]string{
			string(r.Division), string(r.Class),
			strconv.Itoa(r.Score), strconv.Itoa(r.Tens), strconv.Itoa(r.Nines),
			rank, r.Athlete,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
