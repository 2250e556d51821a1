package httpapi

import (
	"net/http"

	"recipe-box/internal/httputil"
	"recipe-box/internal/shopping"
)

type listNameRequest struct {
	Name string `json:"name"`
}

type addItemRequest struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

func (a *api) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := a.Lists.ListLists(r.Context(), userID(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if lists == nil {
		lists = []shopping.List{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"lists": lists})
}

func (a *api) createList(w http.ResponseWriter, r *http.Request) {
	var req listNameRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	l, err := a.Lists.CreateList(r.Context(), userID(r), req.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, l)
}

func (a *api) getList(w http.ResponseWriter, r *http.Request) {
	a.writeList(w, r, pathVar(r, "id"))
}

func (a *api) renameList(w http.ResponseWriter, r *http.Request) {
	var req listNameRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	id := pathVar(r, "id")
	if err := a.Lists.RenameList(r.Context(), userID(r), id, req.Name); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	a.writeList(w, r, id)
}

func (a *api) deleteList(w http.ResponseWriter, r *http.Request) {
	if err := a.Lists.DeleteList(r.Context(), userID(r), pathVar(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	it, err := a.Lists.AddItem(r.Context(), userID(r), pathVar(r, "id"), shopping.Item{
		Name:     req.Name,
		Quantity: req.Quantity,
		Unit:     req.Unit,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, it)
}

func (a *api) updateItem(w http.ResponseWriter, r *http.Request) {
	var patch shopping.ItemPatch
	if err := decode(w, r, &patch); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	it, err := a.Lists.UpdateItem(r.Context(), userID(r), pathVar(r, "id"), pathVar(r, "itemID"), patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, it)
}

func (a *api) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := a.Lists.DeleteItem(r.Context(), userID(r), pathVar(r, "id"), pathVar(r, "itemID")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// addRecipeToList merges a recipe's ingredients into the list.
func (a *api) addRecipeToList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(r)
	rec, err := a.Recipes.Get(ctx, uid, pathVar(r, "recipeID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	l, err := a.Lists.AddRecipe(ctx, uid, pathVar(r, "id"), rec)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (a *api) clearChecked(w http.ResponseWriter, r *http.Request) {
	n, err := a.Lists.ClearChecked(r.Context(), userID(r), pathVar(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

// sendList posts the list to the user's linked Telegram chat.
func (a *api) sendList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(r)
	l, err := a.Lists.GetList(ctx, uid, pathVar(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	u, err := a.Users.Get(ctx, uid)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := a.Notifier.SendChat(u, shopping.FormatMarkdown(l)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) writeList(w http.ResponseWriter, r *http.Request, id string) {
	l, err := a.Lists.GetList(r.Context(), userID(r), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}
