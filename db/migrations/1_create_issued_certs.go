package migrations

import "github.com/go-rel/rel"

func MigrateCreateIssuedCerts(schema *rel.Schema) {
	schema.CreateTable("issued_certs", func(t *rel.Table) {
		t.ID("id")
		t.String("common_name")
		t.String("serial")
		t.String("fingerprint")
		t.Text("cert_pem")
		t.DateTime("not_after")
		t.Unique([]string{"common_name"})
	})
}

func RollbackCreateIssuedCerts(schema *rel.Schema) {
	schema.DropTable("issued_certs")
}
