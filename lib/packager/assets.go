package packager

import (
	"sort"
	"strings"

	"github.com/trufnetwork/lambda-e2e/lib/template"
)

// AssetRecord locates one code bundle referenced by the template.
type AssetRecord struct {
	Key    string
	Bucket string
}

// assetProperties are the resource properties that carry an S3 code location:
// Code for functions, Content for layers.
var assetProperties = []string{"Code", "Content"}

// FindAssets returns the code bundles referenced by the template, with the
// account and region placeholders of the bucket name resolved. Records are
// sorted by key and unique per key.
func FindAssets(t *template.Template, account, region string) []AssetRecord {
	byKey := map[string]string{}
	for _, res := range t.Resources {
		for _, prop := range assetProperties {
			loc, ok := res.Properties[prop].(map[string]any)
			if !ok {
				continue
			}
			key, _ := loc["S3Key"].(string)
			bucket := resolveBucket(loc["S3Bucket"], account, region)
			if key == "" || bucket == "" {
				continue
			}
			byKey[key] = bucket
		}
	}

	records := make([]AssetRecord, 0, len(byKey))
	for key, bucket := range byKey {
		records = append(records, AssetRecord{Key: key, Bucket: bucket})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records
}

func resolveBucket(v any, account, region string) string {
	switch b := v.(type) {
	case string:
		return b
	case map[string]any:
		sub, ok := b["Fn::Sub"].(string)
		if !ok {
			return ""
		}
		return strings.NewReplacer("${AWS::AccountId}", account, "${AWS::Region}", region).Replace(sub)
	default:
		return ""
	}
}
