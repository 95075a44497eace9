// Package graphql provides the GraphQL schema definition and resolvers
package graphql

import (
	"context"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/graphql-go/graphql"
	"github.com/opensbom/sbom-enrich/database"
	"github.com/opensbom/sbom-enrich/model"
)

var db database.DBConnection

// InitDB initializes the global database connection variable used by all resolvers.
func InitDB(dbConn database.DBConnection) {
	db = dbConn
}

// LicenseType defines the GraphQL object for canonical license records
var LicenseType = graphql.NewObject(graphql.ObjectConfig{
	Name: "License",
	Fields: graphql.Fields{
		"spdx": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			lic, _ := p.Source.(model.License)
			return lic.Spdx, nil
		}},
		"is_legal": &graphql.Field{Type: graphql.Boolean, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			lic, _ := p.Source.(model.License)
			return lic.IsLegal, nil
		}},
	},
})

// VulScoreType defines the GraphQL object for per-system vulnerability scores
var VulScoreType = graphql.NewObject(graphql.ObjectConfig{
	Name: "VulScore",
	Fields: graphql.Fields{
		"scoring_system": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			score, _ := p.Source.(model.VulScore)
			return score.ScoringSystem, nil
		}},
		"score": &graphql.Field{Type: graphql.Float, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			score, _ := p.Source.(model.VulScore)
			return score.Score, nil
		}},
		"vector": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			score, _ := p.Source.(model.VulScore)
			return score.Vector, nil
		}},
	},
})

// VulnerabilityType defines the GraphQL object for vulnerability records
var VulnerabilityType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Vulnerability",
	Fields: graphql.Fields{
		"vul_id": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			vul, _ := p.Source.(model.Vulnerability)
			return vul.VulID, nil
		}},
		"type": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			vul, _ := p.Source.(model.Vulnerability)
			return vul.Type, nil
		}},
		"scores": &graphql.Field{
			Type: graphql.NewList(VulScoreType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				vul, _ := p.Source.(model.Vulnerability)
				query := `
					FOR s IN vulscore
						FILTER s.vul_id == @vulId
						SORT s.scoring_system
						RETURN s
				`
				return queryList[model.VulScore](p.Context, query, map[string]interface{}{"vulId": vul.VulID})
			},
		},
	},
})

// PackageType defines the GraphQL object for enriched packages
var PackageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Package",
	Fields: graphql.Fields{
		"key": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			pkg, _ := p.Source.(model.Package)
			return pkg.Key, nil
		}},
		"name": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			pkg, _ := p.Source.(model.Package)
			return pkg.Name, nil
		}},
		"version": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			pkg, _ := p.Source.(model.Package)
			return pkg.Version, nil
		}},
		"copyright": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			pkg, _ := p.Source.(model.Package)
			return pkg.Copyright, nil
		}},
		"license_concluded": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			pkg, _ := p.Source.(model.Package)
			return pkg.LicenseConcluded, nil
		}},
		"licenses": &graphql.Field{
			Type: graphql.NewList(LicenseType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				pkg, _ := p.Source.(model.Package)
				query := `
					FOR relp IN pkglicense
						FILTER relp.pkg_key == @pkgKey
						FOR lic IN license
							FILTER lic.spdx == relp.license_spdx
							RETURN lic
				`
				return queryList[model.License](p.Context, query, map[string]interface{}{"pkgKey": pkg.Key})
			},
		},
		"vulnerabilities": &graphql.Field{
			Type: graphql.NewList(VulnerabilityType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				pkg, _ := p.Source.(model.Package)
				query := `
					FOR ref IN extvulref
						FILTER ref.pkg_key == @pkgKey
						FOR vul IN vulnerability
							FILTER vul.vul_id == ref.vul_id
							RETURN vul
				`
				return queryList[model.Vulnerability](p.Context, query, map[string]interface{}{"pkgKey": pkg.Key})
			},
		},
	},
})

// RunType defines the GraphQL object for enrichment run status
var RunType = graphql.NewObject(graphql.ObjectConfig{
	Name: "EnrichmentRun",
	Fields: graphql.Fields{
		"key": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.Key, nil
		}},
		"bom_key": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.BomKey, nil
		}},
		"status": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.Status, nil
		}},
		"remaining_size": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.RemainingSize, nil
		}},
		"failure_reason": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.FailureReason, nil
		}},
		"package_count": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.PackageCount, nil
		}},
		"license_count": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.LicenseCount, nil
		}},
		"relp_count": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			run, _ := p.Source.(model.EnrichmentRun)
			return run.RelpCount, nil
		}},
	},
})

// queryList runs an AQL query and decodes every row into T
func queryList[T any](ctx context.Context, query string, bindVars map[string]interface{}) ([]T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cursor, err := db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var results []T
	for cursor.HasMore() {
		var row T
		if _, err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, nil
}

// CreateSchema builds the query schema over enriched boms
func CreateSchema() (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"packages": &graphql.Field{
				Type: graphql.NewList(PackageType),
				Args: graphql.FieldConfigArgument{
					"bom_key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					bomKey, _ := p.Args["bom_key"].(string)
					query := `
						FOR pkg IN package
							FILTER pkg.bom_key == @bomKey
							SORT pkg.name
							RETURN pkg
					`
					return queryList[model.Package](p.Context, query, map[string]interface{}{"bomKey": bomKey})
				},
			},
			"vulnerability": &graphql.Field{
				Type: VulnerabilityType,
				Args: graphql.FieldConfigArgument{
					"vul_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					vulID, _ := p.Args["vul_id"].(string)
					query := `
						FOR vul IN vulnerability
							FILTER vul.vul_id == @vulId
							LIMIT 1
							RETURN vul
					`
					results, err := queryList[model.Vulnerability](p.Context, query, map[string]interface{}{"vulId": vulID})
					if err != nil || len(results) == 0 {
						return nil, err
					}
					return results[0], nil
				},
			},
			"runs": &graphql.Field{
				Type: graphql.NewList(RunType),
				Args: graphql.FieldConfigArgument{
					"bom_key": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					bindVars := map[string]interface{}{}
					query := `
						FOR r IN run
							SORT r.started_at DESC
							RETURN r
					`
					if bomKey, ok := p.Args["bom_key"].(string); ok && bomKey != "" {
						query = `
							FOR r IN run
								FILTER r.bom_key == @bomKey
								SORT r.started_at DESC
								RETURN r
						`
						bindVars["bomKey"] = bomKey
					}
					return queryList[model.EnrichmentRun](p.Context, query, bindVars)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}
