package nnet

import (
	"github.com/pkg/errors"
)

// MinAlexNetPixels is the smallest input image size for which the AlexNet layers have a non-zero output.
const MinAlexNetPixels = 67

// AlexNet returns the configuration for a network with five convolutional layers followed by two
// fully connected layers and a single sigmoid output unit. Images are npix x npix RGB.
func AlexNet(npix int, dropout float64) (Config, error) {
	if dropout < 0 || dropout >= 1 {
		return Config{}, errors.Errorf("dropout rate %g must be in range [0,1)", dropout)
	}
	if npix < MinAlexNetPixels {
		return Config{}, errors.Errorf("image size %d is too small: need at least %d pixels", npix, MinAlexNetPixels)
	}
	conf := DefaultConfig()
	conf.Npix = npix
	conf = conf.AddLayers(
		Conv{Nfeats: 96, Size: 11, Stride: 4},
		Activation{Atype: "relu"},
		BatchNorm{},
		MaxPool{Size: 3, Stride: 2},
		Conv{Nfeats: 256, Size: 5, Pad: 2},
		Activation{Atype: "relu"},
		BatchNorm{},
		MaxPool{Size: 3, Stride: 2},
		Conv{Nfeats: 384, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		Conv{Nfeats: 384, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		Conv{Nfeats: 256, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		MaxPool{Size: 3, Stride: 2},
		Flatten{},
		Linear{Nout: 4096},
		Activation{Atype: "relu"},
		Dropout{Rate: dropout},
		Linear{Nout: 4096},
		Activation{Atype: "relu"},
		Dropout{Rate: dropout},
		Linear{Nout: 1},
		BinaryOutput{},
	)
	return conf, nil
}
