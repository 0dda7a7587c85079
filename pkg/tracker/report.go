package tracker

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/olekukonko/tablewriter"
)

func formatGreek(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// PrintSummary renders an aggregate as a small console table, stamped in loc.
func PrintSummary(w io.Writer, loc *time.Location, agg models.Aggregate) {
	if loc == nil {
		loc = time.UTC
	}
	fmt.Fprintf(w, "%s | %d contracts\n", agg.Timestamp.In(loc).Format("2006-01-02 15:04:05 MST"), agg.Contracts)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Side", "Delta", "Vega", "Theta"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	table.Append([]string{"CE", formatGreek(agg.CallDelta), formatGreek(agg.CallVega), formatGreek(agg.CallTheta)})
	table.Append([]string{"PE", formatGreek(agg.PutDelta), formatGreek(agg.PutVega), formatGreek(agg.PutTheta)})
	table.Append([]string{"Net", formatGreek(agg.NetDelta), formatGreek(agg.NetVega), formatGreek(agg.NetTheta)})

	table.Render()
}
