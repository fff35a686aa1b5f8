package memory

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	storetesting "github.com/marmos91/dittodrive/pkg/store/metadata/testing"
)

func TestMemoryMetadataStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return NewMemoryMetadataStore()
		},
	}
	suite.Run(t)
}
