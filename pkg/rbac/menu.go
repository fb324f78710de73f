package rbac

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// Menu targets.
const (
	TargetSelf  = "_self"
	TargetBlank = "_blank"
)

// ListMenuItems returns every menu item with the names of its gating permissions.
func (s *Store) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, title, route, icon, display_order, is_active, target
		FROM menu_items
		ORDER BY display_order, id
	`)
	if err != nil {
		return nil, storage.Wrap("list menu items", err)
	}
	defer rows.Close()

	var items []MenuItem
	index := make(map[int64]int)
	for rows.Next() {
		var item MenuItem
		var parent sql.NullInt64
		if err := rows.Scan(&item.ID, &parent, &item.Title, &item.Route, &item.Icon, &item.DisplayOrder, &item.IsActive, &item.Target); err != nil {
			return nil, storage.Wrap("list menu items", err)
		}
		if parent.Valid {
			p := parent.Int64
			item.ParentID = &p
		}
		item.Permissions = []string{}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list menu items", err)
	}
	rows.Close()

	gates, err := s.db.QueryContext(ctx, `
		SELECT mip.menu_item_id, p.name
		FROM menu_item_permissions mip
		JOIN permissions p ON p.id = mip.permission_id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, storage.Wrap("list menu permissions", err)
	}
	defer gates.Close()
	for gates.Next() {
		var itemID int64
		var name string
		if err := gates.Scan(&itemID, &name); err != nil {
			return nil, storage.Wrap("list menu permissions", err)
		}
		if i, ok := index[itemID]; ok {
			items[i].Permissions = append(items[i].Permissions, name)
		}
	}
	if err := gates.Err(); err != nil {
		return nil, storage.Wrap("list menu permissions", err)
	}
	return items, nil
}

// CreateMenuItem inserts a menu item and its permission gates.
func (s *Store) CreateMenuItem(ctx context.Context, in MenuItemInput) (*MenuItem, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, invalid("menu title is required")
	}
	if len(in.Title) > 100 {
		return nil, invalid("menu title must be at most 100 characters")
	}
	switch in.Target {
	case "":
		in.Target = TargetSelf
	case TargetSelf, TargetBlank:
	default:
		return nil, invalid("target must be %s or %s", TargetSelf, TargetBlank)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	permIDs := uniqueIDs(in.PermissionIDs)

	item := &MenuItem{
		ParentID:     in.ParentID,
		Title:        in.Title,
		Route:        strings.TrimSpace(in.Route),
		Icon:         in.Icon,
		DisplayOrder: in.DisplayOrder,
		IsActive:     active,
		Target:       in.Target,
	}

	err := s.withTx(ctx, "create menu item", func(tx *sql.Tx) error {
		var parent interface{}
		if in.ParentID != nil {
			n, err := count(ctx, tx, "get parent menu item", `SELECT COUNT(*) FROM menu_items WHERE id = $1`, *in.ParentID)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrMenuItemNotFound
			}
			parent = *in.ParentID
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO menu_items (parent_id, title, route, icon, display_order, is_active, target)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, parent, item.Title, item.Route, item.Icon, item.DisplayOrder, item.IsActive, item.Target).Scan(&item.ID)
		if err != nil {
			return storage.Wrap("create menu item", err)
		}

		for _, pid := range permIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO menu_item_permissions (menu_item_id, permission_id) VALUES ($1, $2)
			`, item.ID, pid)
			if err != nil {
				if storage.IsForeignKeyViolation(err) {
					return ErrPermissionNotFound
				}
				return storage.Wrap("gate menu item", err)
			}
		}

		names, err := permissionNames(ctx, tx, permIDs)
		item.Permissions = names
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func permissionNames(ctx context.Context, q querier, ids []int64) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		var name string
		err := q.QueryRowContext(ctx, `SELECT name FROM permissions WHERE id = $1`, id).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPermissionNotFound
		}
		if err != nil {
			return nil, storage.Wrap("get permission", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteMenuItem deletes a menu item and its descendants.
func (s *Store) DeleteMenuItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return storage.Wrap("delete menu item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Wrap("delete menu item", err)
	}
	if n == 0 {
		return ErrMenuItemNotFound
	}
	return nil
}

// BuildMenuTree arranges items into a forest ordered by DisplayOrder then ID.
// An item is included when keep accepts it and its parent is included; items
// whose parent is missing or filtered out are dropped with their subtrees.
// Items on a parent cycle are never reachable from a root and are dropped.
func BuildMenuTree(items []MenuItem, keep func(MenuItem) bool) MenuTree {
	kept := make(map[int64]bool, len(items))
	for _, item := range items {
		if keep == nil || keep(item) {
			kept[item.ID] = true
		}
	}

	children := make(map[int64][]MenuItem)
	var roots []MenuItem
	for _, item := range items {
		if !kept[item.ID] {
			continue
		}
		if item.ParentID == nil {
			roots = append(roots, item)
			continue
		}
		if kept[*item.ParentID] {
			children[*item.ParentID] = append(children[*item.ParentID], item)
		}
	}

	var build func(level []MenuItem) []MenuNode
	build = func(level []MenuItem) []MenuNode {
		if len(level) == 0 {
			return nil
		}
		sort.SliceStable(level, func(i, j int) bool {
			if level[i].DisplayOrder != level[j].DisplayOrder {
				return level[i].DisplayOrder < level[j].DisplayOrder
			}
			return level[i].ID < level[j].ID
		})
		nodes := make([]MenuNode, 0, len(level))
		for _, item := range level {
			nodes = append(nodes, MenuNode{
				ID:       item.ID,
				Title:    item.Title,
				Route:    item.Route,
				Icon:     item.Icon,
				Target:   item.Target,
				Children: build(children[item.ID]),
			})
		}
		return nodes
	}

	tree := MenuTree(build(roots))
	if tree == nil {
		tree = MenuTree{}
	}
	return tree
}
