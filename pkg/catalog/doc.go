// Package catalog holds the declarative permission and role catalogs.
//
// # Overview
//
// Catalogs are YAML documents. The default catalog is embedded in the binary;
// an operator may point RBACD_CATALOG_PATH at a replacement file.
//
//	permissions:
//	  - name: view_products
//	    description: Browse the product catalog
//	    category: products
//	roles:
//	  - name: customer
//	    type: business
//	    priority: 10
//	    is_default: true
//	    permissions: [view_products]
//
// # Naming
//
// Permission names follow {action}_{resource}. ParsePermissionName splits on
// the first underscore, so "view_audit_logs" is action "view", resource
// "audit_logs". A name without an underscore does not parse and is reported
// by Validate rather than guessed.
//
// # Validation
//
// Validate runs without storage so catalogs can be checked in CI:
//
//	c, _ := catalog.LoadFile("catalog.yaml")
//	if err := c.Validate().Err(); err != nil {
//		log.Fatal(err)
//	}
package catalog
