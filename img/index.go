package img

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Fraction of the sampled subset which is used for training, the rest is held back for validation.
const TrainFraction = 0.8

// Sample is a single image file and its class label.
type Sample struct {
	Path  string
	Label string
}

// IndexDir lists the images under root. Each immediate subdirectory is a class, every file within it is a sample.
// Directories which cannot be read or are empty are logged and skipped.
func IndexDir(root string, log *zap.SugaredLogger) ([]Sample, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "error reading training directory")
	}
	var samples []Sample
	for _, dir := range entries {
		if !isDir(root, dir) {
			continue
		}
		classDir := filepath.Join(root, dir.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			log.Warnw("skipping unreadable class directory", "dir", classDir, "error", err)
			continue
		}
		count := 0
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			samples = append(samples, Sample{Path: filepath.Join(classDir, file.Name()), Label: dir.Name()})
			count++
		}
		if count == 0 {
			log.Warnw("class directory contains no files", "dir", classDir)
		}
		log.Debugw("indexed class", "label", dir.Name(), "files", count)
	}
	return samples, nil
}

// follow symlinks so that a linked class directory is still indexed
func isDir(root string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}

// Split shuffles a copy of the samples, keeps int(frac*N) of them and splits these into training and validation sets.
func Split(samples []Sample, frac float64, rng *rand.Rand) (train, valid []Sample, err error) {
	if frac <= 0 || frac > 1 {
		return nil, nil, errors.Errorf("sample fraction %g must be in range (0,1]", frac)
	}
	list := append([]Sample{}, samples...)
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	subset := list[:int(frac*float64(len(list)))]
	ntrain := int(TrainFraction * float64(len(subset)))
	return subset[:ntrain:ntrain], subset[ntrain:], nil
}

// Classes returns the sorted list of distinct labels. There must be exactly two for a binary classifier.
func Classes(samples []Sample) ([]string, error) {
	seen := map[string]bool{}
	for _, s := range samples {
		seen[s.Label] = true
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	if len(classes) != 2 {
		return classes, errors.Errorf("expecting 2 classes - found %d: %v", len(classes), classes)
	}
	return classes, nil
}

// Counts returns the number of samples with each label.
func Counts(samples []Sample) map[string]int {
	counts := map[string]int{}
	for _, s := range samples {
		counts[s.Label]++
	}
	return counts
}
