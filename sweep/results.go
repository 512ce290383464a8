package sweep

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/jnb666/fruitnet/nnet"
	"github.com/jnb666/fruitnet/stats"
	"github.com/olekukonko/tablewriter"
)

// Results table with one entry per completed trial.
type Results []Result

// Row is the flattened form of a result used for the table and CSV output.
type Row struct {
	BatchSize    int     `csv:"batch_size"`
	Optimizer    string  `csv:"optimizer"`
	LearningRate string  `csv:"learning_rate"`
	Dropout      float64 `csv:"dropout"`
	Epoch        int     `csv:"epoch"`
	ValAcc       float64 `csv:"val_acc"`
	TrainAcc     float64 `csv:"train_acc"`
	RunTime      float64 `csv:"run_time"`
	ID           string  `csv:"run_id"`
}

// Headers are the column names in order.
func Headers() []string {
	return []string{"batch_size", "optimizer", "learning_rate", "dropout", "epoch", "val_acc", "train_acc", "run_time"}
}

// Row returns the table entry, the learning rate is "-" for an optimizer which does not have one.
func (r Result) Row() Row {
	lr := "-"
	if rate, ok := nnet.LearningRate(r.Optimizer); ok {
		lr = strconv.FormatFloat(rate, 'g', -1, 64)
	}
	return Row{
		BatchSize:    r.BatchSize,
		Optimizer:    r.Optimizer.Name(),
		LearningRate: lr,
		Dropout:      r.Dropout,
		Epoch:        r.Point.Epochs,
		ValAcc:       r.ValAcc,
		TrainAcc:     r.TrainAcc,
		RunTime:      r.RunTime.Seconds(),
		ID:           r.ID,
	}
}

func (r Row) values() []string {
	return []string{
		strconv.Itoa(r.BatchSize),
		r.Optimizer,
		r.LearningRate,
		strconv.FormatFloat(r.Dropout, 'g', -1, 64),
		strconv.Itoa(r.Epoch),
		fmt.Sprintf("%.4f", r.ValAcc),
		fmt.Sprintf("%.4f", r.TrainAcc),
		fmt.Sprintf("%.1f", r.RunTime),
	}
}

func (res Results) Rows() []Row {
	rows := make([]Row, len(res))
	for i, r := range res {
		rows[i] = r.Row()
	}
	return rows
}

// WriteTable prints the results as a text table.
func (res Results) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(Headers())
	table.SetAutoFormatHeaders(false)
	for _, row := range res.Rows() {
		table.Append(row.values())
	}
	table.Render()
}

// WriteCSV writes the results in CSV format with a header line.
func (res Results) WriteCSV(w io.Writer) error {
	rows := res.Rows()
	return gocsv.Marshal(&rows, w)
}

// Summary of the validation and training accuracy over all trials.
func (res Results) Summary() (val, train stats.Summary, err error) {
	valAcc := make([]float64, len(res))
	trainAcc := make([]float64, len(res))
	for i, r := range res {
		valAcc[i], trainAcc[i] = r.ValAcc, r.TrainAcc
	}
	if val, err = stats.Summarize(valAcc); err != nil {
		return
	}
	train, err = stats.Summarize(trainAcc)
	return
}

// Best returns the index of the trial with the highest validation accuracy, or -1 if there are none.
func (res Results) Best() int {
	best := -1
	for i, r := range res {
		if best < 0 || r.ValAcc > res[best].ValAcc {
			best = i
		}
	}
	return best
}
