package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"

	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/domain/model"
)

const sampleCSV = `,Division,Class,Athlete,Score,10,9,Category Rank
0,R,M,A. Archer,589,41,30,1
1,R,M,B. Bowman,575,33,35,2
2,R,W,C. Fletcher,580,38,30,1T
3,R,W,D. Quill,DSQ,,,
4,C,M,E. Nock,0,0,0,9

5,Compound,women,F. Vane,590.0,50,10,
`

func TestReadCSV(t *testing.T) {
	Convey("Given a result table", t, func() {
		records, err := ReadCSV(strings.NewReader(sampleCSV), "Nimes22")
		So(err, ShouldBeNil)

		Convey("Then zero and disqualified rows are dropped", func() {
			So(records, ShouldHaveLength, 4)
		})

		Convey("Then fields are parsed and normalized", func() {
			So(records[0], ShouldResemble, model.Record{
				EventID: "Nimes22", Division: model.Recurve, Class: model.Men,
				Athlete: "A. Archer", Score: 589, Tens: 41, Nines: 30, CategoryRank: 1,
			})
			So(records[2].CategoryRank, ShouldEqual, 1)
			So(records[3].Division, ShouldEqual, model.Compound)
			So(records[3].Class, ShouldEqual, model.Women)
			So(records[3].Score, ShouldEqual, 590)
		})
	})

	Convey("Given malformed tables", t, func() {
		Convey("A missing column is reported", func() {
			_, err := ReadCSV(strings.NewReader("Division,Class,Score,10\nR,M,500,1\n"), "E")
			So(errors.Is(err, ErrMissingColumn), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, `"9"`)
		})

		Convey("A bad score names its line", func() {
			_, err := ReadCSV(strings.NewReader("Division,Class,Score,10,9\nR,M,5x0,1,1\n"), "E")
			So(errors.Is(err, ErrMalformedRow), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "line 2")
		})

		Convey("An unknown class is rejected", func() {
			_, err := ReadCSV(strings.NewReader("Division,Class,Score,10,9\nR,X,500,1,1\n"), "E")
			So(errors.Is(err, ErrMalformedRow), ShouldBeTrue)
		})

		Convey("An empty input is rejected", func() {
			_, err := ReadCSV(strings.NewReader("\n\n"), "E")
			So(errors.Is(err, ErrEmptyTable), ShouldBeTrue)
		})
	})

	Convey("WriteCSV output reads back", t, func() {
		records, err := ReadCSV(strings.NewReader(sampleCSV), "Nimes22")
		So(err, ShouldBeNil)
		var buf bytes.Buffer
		So(WriteCSV(&buf, records), ShouldBeNil)
		again, err := ReadCSV(&buf, "Nimes22")
		So(err, ShouldBeNil)
		So(again, ShouldResemble, records)
	})
}

func TestReadXLSX(t *testing.T) {
	Convey("Given a workbook", t, func() {
		f := excelize.NewFile()
		sheet := f.GetSheetName(0)
		rows := [][]any{
			{"Division", "Class", "Score", "10", "9"},
			{"C", "M", 592, 52, 8},
			{"C", "W", 0, 0, 0},
			{"C", "W", 588, 48, 12},
		}
		for i, row := range rows {
			cellRef, err := excelize.CoordinatesToCellName(1, i+1)
			So(err, ShouldBeNil)
			So(f.SetSheetRow(sheet, cellRef, &row), ShouldBeNil)
		}
		var buf bytes.Buffer
		So(f.Write(&buf), ShouldBeNil)

		records, err := ReadXLSX(&buf, "AGBNI21")
		So(err, ShouldBeNil)
		So(records, ShouldHaveLength, 2)
		So(records[1].Class, ShouldEqual, model.Women)
		So(records[1].Tens, ShouldEqual, 48)
	})

	Convey("A CSV passed as a workbook gets a hint", t, func() {
		_, err := ReadXLSX(strings.NewReader(sampleCSV), "E")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "Hint")
	})
}

func TestLoader(t *testing.T) {
	Convey("Given a data directory", t, func() {
		dir := t.TempDir() + string(filepath.Separator)
		So(os.WriteFile(dir+"Nimes21Scores.csv", []byte(sampleCSV), 0o600), ShouldBeNil)
		So(os.WriteFile(dir+"Nimes22Scores.csv", []byte("Division,Class,Score,10,9\nB,M,480,10,20\n"), 0o600), ShouldBeNil)
		ctx := context.Background()

		Convey("Events are loaded in order and tagged", func() {
			records, err := LoadFiles(ctx, []LoaderOption{WithDir(dir)}, "Nimes22", "Nimes21")
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 5)
			So(records[0].EventID, ShouldEqual, "Nimes22")
			So(records[4].EventID, ShouldEqual, "Nimes21")
		})

		Convey("Repeated events are skipped", func() {
			l := NewLoader(WithDir(dir), WithDatasetID("Nimes_"))
			first, err := l.Load(ctx, "Nimes22", "Nimes22")
			So(err, ShouldBeNil)
			So(first, ShouldHaveLength, 1)
			second, err := l.Load(ctx, "Nimes22")
			So(err, ShouldBeNil)
			So(second, ShouldBeEmpty)
		})

		Convey("A missing file fails and can be retried", func() {
			d := dedupe.NewInMemoryDeduper()
			l := NewLoader(WithDir(dir), WithDeduper(d))
			_, err := l.Load(ctx, "Nimes19")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Nimes19")
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("A later failure forgets the events loaded before it", func() {
			d := dedupe.NewInMemoryDeduper()
			l := NewLoader(WithDir(dir), WithDeduper(d))
			_, err := l.Load(ctx, "Nimes22", "Nimes21", "Nimes23")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Nimes23")
			So(d.Size(), ShouldEqual, 0)

			So(os.WriteFile(dir+"Nimes23Scores.csv", []byte("Division,Class,Score,10,9\nC,W,650,30,25\n"), 0o600), ShouldBeNil)
			records, err := l.Load(ctx, "Nimes22", "Nimes21", "Nimes23")
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 6)
			So(records[0].EventID, ShouldEqual, "Nimes22")
			So(records[5].EventID, ShouldEqual, "Nimes23")
			So(d.Size(), ShouldEqual, 3)
		})

		Convey("Prefix, suffix and extension build the path", func() {
			l := NewLoader(WithDir("d/"), WithPrefix("AGB_"), WithSuffix(""), WithExt(".xlsx"))
			So(l.Path("NI21"), ShouldEqual, "d/AGB_NI21.xlsx")
		})

		Convey("A cancelled context stops loading", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := LoadFiles(cctx, []LoaderOption{WithDir(dir)}, "Nimes22")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestTableTo2D(t *testing.T) {
	Convey("Spanning cells fill every slot they cover", t, func() {
		doc, err := html.Parse(strings.NewReader(`<table>
			<tr><th rowspan="2">A</th><th colspan="2">B</th></tr>
			<tr><td>1</td><td>2</td></tr>
			<tr><td>x</td><td colspan="0">y</td></tr>
		</table>`))
		So(err, ShouldBeNil)
		grid := tableTo2D(tableSelector.MatchFirst(doc))
		So(grid, ShouldResemble, [][]string{
			{"A", "B", "B"},
			{"A", "1", "2"},
			{"x", "y", "y"},
		})
	})

	Convey("deleteEvery drops a stride", t, func() {
		rows := [][]string{{"0"}, {"1"}, {"2"}, {"3"}, {"4"}, {"5"}}
		So(deleteEvery(rows, 2, 3), ShouldResemble, [][]string{{"0"}, {"1"}, {"3"}, {"4"}})
	})
}

// newLayoutPage puts a title row first, then the header, then each athlete
// followed by two detail rows.
func newLayoutPage(athletes ...[]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table><tr><th colspan="6">Qualification</th></tr>`)
	b.WriteString(`<tr><th>Pos.</th><th>Athlete</th><th>Country</th><th>10</th><th>9</th><th>Tot.</th></tr>`)
	for _, a := range athletes {
		b.WriteString("<tr>")
		for _, c := range a {
			b.WriteString("<td>" + c + "</td>")
		}
		b.WriteString(`</tr><tr><td colspan="6">18m-1</td></tr><tr><td colspan="6">18m-2</td></tr>`)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

const oldLayoutPage = `<html><body>
<table class="Griglia">
<tr><th colspan="6">Recurve Women</th></tr>
<tr><th>Rank</th><th>Athlete</th><th>Class</th><th>10</th><th>9</th><th>Tot.</th></tr>
<tr><td>1</td><td>G. Nock</td><td>SW</td><td>40</td><td>31</td><td>585</td></tr>
<tr><td>2</td><td>H. Shaft</td><td>SW</td><td>-</td><td>-</td><td>DSQ</td></tr>
</table></body></html>`

func TestScraper(t *testing.T) {
	Convey("Given an IANSEO tournament server", t, func() {
		pages := map[string]string{
			"/TourData/2022/9959/IQRM.php": newLayoutPage(
				[]string{"1", "A. Archer", "GBR", "45", "12", "590"},
				[]string{"2", "B. Bowman", "FRA", "40", "15", "581"},
			),
			"/TourData/2022/9959/IQRW.php": oldLayoutPage,
			"/TourData/2022/9959/IQCM.php": newLayoutPage([]string{"1", "C. Fletcher", "ITA", "55", "5", "595"}),
			"/TourData/2022/9959/IQCW.php": newLayoutPage([]string{"1", "D. Quill", "USA", "52", "8", "592"}),
			"/TourData/2022/9959/IQBM.php": newLayoutPage([]string{"1", "E. Vane", "GER", "12", "20", "500"}),
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page, ok := pages[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(page))
		}))
		Reset(srv.Close)

		s := NewScraper(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		ctx := context.Background()

		Convey("A new layout page parses every athlete", func() {
			records, err := s.FetchCategory(ctx, "TourData/2022/9959", "Nimes22", model.Recurve, model.Men)
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 2)
			So(records[1], ShouldResemble, model.Record{
				EventID: "Nimes22", Division: model.Recurve, Class: model.Men,
				Athlete: "B. Bowman", Score: 581, Tens: 40, Nines: 15, CategoryRank: 2,
			})
		})

		Convey("An old layout page drops disqualified athletes", func() {
			records, err := s.FetchCategory(ctx, srv.URL+"/TourData/2022/9959/", "Nimes22", model.Recurve, model.Women)
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 1)
			So(records[0].Class, ShouldEqual, model.Women)
			So(records[0].Score, ShouldEqual, 585)
		})

		Convey("A whole event skips missing optional categories", func() {
			records, err := s.FetchEvent(ctx, "TourData/2022/9959", "Nimes22")
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 6)
			So(records[5].Division, ShouldEqual, model.Barebow)
		})

		Convey("A missing required category fails the event", func() {
			delete(pages, "/TourData/2022/9959/IQCW.php")
			_, err := s.FetchEvent(ctx, "TourData/2022/9959", "Nimes22")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "404")
		})
	})

	Convey("A page without tables is reported", t, func() {
		_, _, err := ParseCategoryPage(strings.NewReader("<html><p>closed</p></html>"), "E", model.Recurve, model.Men)
		So(errors.Is(err, ErrNoTable), ShouldBeTrue)
	})
}
